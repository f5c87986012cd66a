//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestE2E_Bootstrap tests user and API key creation
func TestE2E_Bootstrap(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	t.Run("create user", func(t *testing.T) {
		resp, err := env.Post("/users", map[string]string{"name": "Test User"}, "")
		require.NoError(t, err)

		var user struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			CreatedAt string `json:"created_at"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &user))
		assert.NotEmpty(t, user.ID)
		assert.Equal(t, "Test User", user.Name)
		assert.NotEmpty(t, user.CreatedAt)
	})

	t.Run("create API key", func(t *testing.T) {
		userResp, err := env.Post("/users", map[string]string{"name": "Key Test User"}, "")
		require.NoError(t, err)

		var user struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(userResp.Data, &user))

		keyResp, err := env.Post("/apikeys", map[string]string{
			"user_id": user.ID,
			"name":    "test-key",
		}, "")
		require.NoError(t, err)

		var key struct {
			Token string `json:"token"`
			Name  string `json:"name"`
		}
		require.NoError(t, json.Unmarshal(keyResp.Data, &key))
		assert.NotEmpty(t, key.Token)
		assert.Equal(t, "test-key", key.Name)
		assert.Len(t, key.Token, 68) // dcu_ prefix (4) + 32 bytes hex (64) = 68 chars
	})

	t.Run("API key works for authentication", func(t *testing.T) {
		userResp, err := env.Post("/users", map[string]string{"name": "Auth Test User"}, "")
		require.NoError(t, err)

		var user struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(userResp.Data, &user))

		keyResp, err := env.Post("/apikeys", map[string]string{
			"user_id": user.ID,
			"name":    "auth-test-key",
		}, "")
		require.NoError(t, err)

		var key struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.Unmarshal(keyResp.Data, &key))

		resp, err := env.Get("/documents", key.Token)
		require.NoError(t, err)

		var docs struct {
			Items []interface{} `json:"items"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &docs))
		assert.NotNil(t, docs.Items) // Should be empty array, not error
	})

	t.Run("invalid API key returns 401", func(t *testing.T) {
		_, err := env.Get("/documents", "dcu_invalidtoken")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
	})
}

// TestE2E_DocumentLifecycle covers upload, ingestion, re-processing, and
// deletion of a document
func TestE2E_DocumentLifecycle(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()
	env.Bootstrap()

	var documentID string

	t.Run("init upload", func(t *testing.T) {
		resp, err := env.Post("/documents/init", map[string]string{
			"filename":     "handbook.pdf",
			"content_type": "application/pdf",
		}, env.APIToken)
		require.NoError(t, err)

		var init struct {
			DocumentID string `json:"document_id"`
			UploadURL  string `json:"upload_url"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &init))
		require.NotEmpty(t, init.DocumentID)
		require.NotEmpty(t, init.UploadURL)
		documentID = init.DocumentID

		pdf := minimalPDF("Employees receive twenty days of paid leave per year. Unused days carry over.")
		require.NoError(t, env.UploadFile(init.UploadURL, pdf, "application/pdf"))
	})

	t.Run("complete upload enqueues ingestion", func(t *testing.T) {
		resp, err := env.Post("/documents/"+documentID+"/complete", nil, env.APIToken)
		require.NoError(t, err)

		var doc struct {
			ID        string `json:"id"`
			Status    string `json:"status"`
			SizeBytes int64  `json:"size_bytes"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &doc))
		assert.Equal(t, documentID, doc.ID)
		assert.Equal(t, "uploading", doc.Status)
		assert.Greater(t, doc.SizeBytes, int64(0))
	})

	t.Run("ingestion completes the document", func(t *testing.T) {
		env.DrainIngestJobs()

		resp, err := env.Get("/documents/"+documentID, env.APIToken)
		require.NoError(t, err)

		var doc struct {
			Status     string `json:"status"`
			TotalPages int    `json:"total_pages"`
			ChunkCount int    `json:"chunk_count"`
			Error      string `json:"error"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &doc))
		assert.Equal(t, "completed", doc.Status, "ingestion error: %s", doc.Error)
		assert.Equal(t, 1, doc.TotalPages)
		assert.GreaterOrEqual(t, doc.ChunkCount, 1)
	})

	t.Run("list documents", func(t *testing.T) {
		resp, err := env.Get("/documents", env.APIToken)
		require.NoError(t, err)

		var list struct {
			Items []struct {
				ID       string `json:"id"`
				Filename string `json:"filename"`
			} `json:"items"`
			HasMore bool `json:"has_more"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &list))
		require.Len(t, list.Items, 1)
		assert.Equal(t, documentID, list.Items[0].ID)
		assert.Equal(t, "handbook.pdf", list.Items[0].Filename)
		assert.False(t, list.HasMore)
	})

	t.Run("reprocess a completed document", func(t *testing.T) {
		_, err := env.Post("/documents/"+documentID+"/process", nil, env.APIToken)
		require.NoError(t, err)

		env.DrainIngestJobs()

		resp, err := env.Get("/documents/"+documentID, env.APIToken)
		require.NoError(t, err)

		var doc struct {
			Status     string `json:"status"`
			ChunkCount int    `json:"chunk_count"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &doc))
		assert.Equal(t, "completed", doc.Status)
		assert.GreaterOrEqual(t, doc.ChunkCount, 1)
	})

	t.Run("delete document", func(t *testing.T) {
		_, err := env.Delete("/documents/"+documentID, env.APIToken)
		require.NoError(t, err)

		_, err = env.Get("/documents/"+documentID, env.APIToken)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})
}

// TestE2E_Chat covers the retrieval-augmented chat flow end to end
func TestE2E_Chat(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()
	env.Bootstrap()

	type chatResponse struct {
		ConversationID string `json:"conversation_id"`
		Message        struct {
			Role     string `json:"role"`
			Content  string `json:"content"`
			ErrorTag string `json:"error_tag"`
			Sources  []struct {
				DocumentID   string  `json:"document_id"`
				DocumentName string  `json:"document_name"`
				Page         int     `json:"page"`
				Excerpt      string  `json:"excerpt"`
				Similarity   float64 `json:"similarity"`
			} `json:"sources"`
		} `json:"message"`
		Provider string `json:"provider"`
		Degraded bool   `json:"degraded"`
	}

	t.Run("chat without documents is degraded", func(t *testing.T) {
		resp, err := env.Post("/chat", map[string]string{
			"message": "What does the handbook say?",
		}, env.APIToken)
		require.NoError(t, err)

		var chat chatResponse
		require.NoError(t, json.Unmarshal(resp.Data, &chat))
		assert.True(t, chat.Degraded)
		assert.Equal(t, "no_context", chat.Message.ErrorTag)
		assert.Empty(t, chat.Message.Sources)
	})

	var documentID string

	t.Run("ingest a document", func(t *testing.T) {
		initResp, err := env.Post("/documents/init", map[string]string{
			"filename":     "handbook.pdf",
			"content_type": "application/pdf",
		}, env.APIToken)
		require.NoError(t, err)

		var init struct {
			DocumentID string `json:"document_id"`
			UploadURL  string `json:"upload_url"`
		}
		require.NoError(t, json.Unmarshal(initResp.Data, &init))
		documentID = init.DocumentID

		pdf := minimalPDF("Employees receive twenty days of paid leave per year. Unused days carry over.")
		require.NoError(t, env.UploadFile(init.UploadURL, pdf, "application/pdf"))

		_, err = env.Post("/documents/"+documentID+"/complete", nil, env.APIToken)
		require.NoError(t, err)

		env.DrainIngestJobs()
	})

	var conversationID string
	question := "How many days of paid leave do employees get?"

	t.Run("chat answers with sources", func(t *testing.T) {
		resp, err := env.Post("/chat", map[string]string{
			"message": question,
		}, env.APIToken)
		require.NoError(t, err)

		var chat chatResponse
		require.NoError(t, json.Unmarshal(resp.Data, &chat))
		require.NotEmpty(t, chat.ConversationID)
		conversationID = chat.ConversationID

		assert.False(t, chat.Degraded)
		assert.Equal(t, "gemini", chat.Provider)
		assert.Equal(t, "assistant", chat.Message.Role)
		assert.Equal(t, stubAnswer, chat.Message.Content)
		assert.Empty(t, chat.Message.ErrorTag)

		require.NotEmpty(t, chat.Message.Sources)
		src := chat.Message.Sources[0]
		assert.Equal(t, documentID, src.DocumentID)
		assert.Equal(t, "handbook.pdf", src.DocumentName)
		assert.Equal(t, 1, src.Page)
		assert.Contains(t, src.Excerpt, "paid leave")
		assert.InDelta(t, 1.0, src.Similarity, 0.01)
	})

	t.Run("follow-up reuses the conversation", func(t *testing.T) {
		resp, err := env.Post("/chat", map[string]string{
			"conversation_id": conversationID,
			"message":         "Do unused days carry over?",
		}, env.APIToken)
		require.NoError(t, err)

		var chat chatResponse
		require.NoError(t, json.Unmarshal(resp.Data, &chat))
		assert.Equal(t, conversationID, chat.ConversationID)
		assert.Equal(t, stubAnswer, chat.Message.Content)
	})

	t.Run("list conversations", func(t *testing.T) {
		resp, err := env.Get("/conversations", env.APIToken)
		require.NoError(t, err)

		var list struct {
			Items []struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"items"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &list))
		require.NotEmpty(t, list.Items)

		// The followed-up conversation was touched last, so it lists first.
		assert.Equal(t, conversationID, list.Items[0].ID)
		assert.Equal(t, question, list.Items[0].Title)
	})

	t.Run("list messages", func(t *testing.T) {
		resp, err := env.Get(fmt.Sprintf("/conversations/%s/messages", conversationID), env.APIToken)
		require.NoError(t, err)

		var list struct {
			Items []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"items"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &list))
		require.Len(t, list.Items, 4)
		assert.Equal(t, "user", list.Items[0].Role)
		assert.Equal(t, question, list.Items[0].Content)
		assert.Equal(t, "assistant", list.Items[1].Role)
	})

	t.Run("foreign conversation is hidden", func(t *testing.T) {
		otherResp, err := env.Post("/users", map[string]string{"name": "Other User"}, "")
		require.NoError(t, err)

		var other struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(otherResp.Data, &other))

		keyResp, err := env.Post("/apikeys", map[string]string{
			"user_id": other.ID,
			"name":    "other-key",
		}, "")
		require.NoError(t, err)

		var key struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.Unmarshal(keyResp.Data, &key))

		_, err = env.Get(fmt.Sprintf("/conversations/%s/messages", conversationID), key.Token)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})
}
