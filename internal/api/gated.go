package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"bezhas-entitlements/internal/ai"
	apperrors "bezhas-entitlements/internal/common/errors"
	"bezhas-entitlements/internal/gate"

	"github.com/google/uuid"
)

const maxPostLength = 5000

type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// PostStore persists posts created through the limited sample route.
type PostStore interface {
	Create(ctx context.Context, userID, content string) (*Post, error)
}

type MemoryPosts struct {
	mu    sync.Mutex
	posts []Post
}

func NewMemoryPosts() *MemoryPosts {
	return &MemoryPosts{}
}

func (m *MemoryPosts) Create(_ context.Context, userID, content string) (*Post, error) {
	p := Post{ID: uuid.NewString(), UserID: userID, Content: content, CreatedAt: time.Now().UTC()}
	m.mu.Lock()
	m.posts = append(m.posts, p)
	m.mu.Unlock()
	return &p, nil
}

func (m *MemoryPosts) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posts)
}

// handleCreatePost runs behind CheckLimit; usage is committed only once the post exists.
func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" || len(content) > maxPostLength {
		apperrors.WriteHTTP(w, apperrors.NewInvalidRequestError("content must be 1-5000 characters"))
		return
	}

	post, err := s.Posts.Create(r.Context(), callerID(r), content)
	if err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}

	resp := map[string]interface{}{"post": post}
	if _, commit := gate.UsageFrom(r.Context()); commit != nil {
		status, err := commit(r.Context(), 1)
		if err != nil {
			s.logger.WithError(err).Error("post created but usage not counted", map[string]interface{}{
				"userId": post.UserID,
				"postId": post.ID,
			})
		} else {
			resp["usage"] = status
		}
	}
	respondJSON(w, http.StatusCreated, resp)
}

// handleAIChat runs behind CheckAIAccess and PreauthorizeAICost. The real
// token usage is charged after generation; a failed generation charges nothing.
func (s *Server) handleAIChat(w http.ResponseWriter, r *http.Request) {
	if s.Generator == nil {
		apperrors.WriteHTTP(w, apperrors.NewExternalServiceError("genai", errors.New("generator not configured")))
		return
	}
	authz := gate.CostFrom(r.Context())
	if authz == nil {
		apperrors.WriteHTTP(w, errors.New("ai chat mounted without cost authorization"))
		return
	}

	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}

	res, err := s.Generator.Generate(r.Context(), req.Prompt, authz.Model)
	switch {
	case errors.Is(err, ai.ErrEmptyPrompt):
		apperrors.WriteHTTP(w, apperrors.NewInvalidRequestError(err.Error()))
		return
	case err != nil:
		apperrors.WriteHTTP(w, apperrors.NewExternalServiceError("genai", err))
		return
	}

	charged, err := authz.Finalize(r.Context(), res.Usage)
	if err != nil {
		apperrors.WriteHTTP(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"text":     res.Text,
		"model":    res.Model,
		"cached":   res.Cached,
		"usage":    res.Usage,
		"estimate": authz.Estimate,
		"cost":     charged,
	})
}
