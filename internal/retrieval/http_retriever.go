package retrieval

import (
	"context"
	"strings"

	"github.com/GBR24/kolmo-mvp/internal/models"
)

type JSONPoster interface {
	PostJSON(ctx context.Context, url string, body any, headers map[string]string, out any) error
}

// HTTPRetriever delegates search to an external vector index service.
type HTTPRetriever struct {
	client  JSONPoster
	baseURL string
}

func NewHTTPRetriever(client JSONPoster, baseURL string) *HTTPRetriever {
	return &HTTPRetriever{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (r *HTTPRetriever) Name() string {
	return "index"
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Passages []models.Passage `json:"passages"`
}

func (r *HTTPRetriever) Search(ctx context.Context, query string, topK int) ([]models.Passage, error) {
	var out searchResponse
	if err := r.client.PostJSON(ctx, r.baseURL+"/search", searchRequest{Query: query, TopK: topK}, nil, &out); err != nil {
		return nil, err
	}
	passages := make([]models.Passage, 0, len(out.Passages))
	for _, p := range out.Passages {
		if strings.TrimSpace(p.Text) == "" || p.SourceRef == "" {
			continue
		}
		passages = append(passages, p)
	}
	if topK > 0 && len(passages) > topK {
		passages = passages[:topK]
	}
	return passages, nil
}
