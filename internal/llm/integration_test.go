//go:build integration

package llm_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/blockedby/tg-forwarder/internal/llm"
)

func TestIntegration_Rewrite(t *testing.T) {
	_ = godotenv.Load("../../.env")

	baseURL := os.Getenv("LLM_BASE_URL")
	if baseURL == "" {
		t.Skip("Skipping integration test: LLM_BASE_URL not set")
	}

	client := llm.NewClient(llm.Config{
		BaseURL:     baseURL,
		Model:       os.Getenv("LLM_MODEL"),
		APIKey:      os.Getenv("LLM_API_KEY"),
		MaxTokens:   500,
		Temperature: 0.3,
		Timeout:     60 * time.Second,
	})

	text := "今日福利视频合集,点击链接查看,手慢无!https://example.com/abc"

	out, err := client.Rewrite(context.Background(), "", text)
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}

	t.Logf("rewritten: %s", out)
	if out == "" {
		t.Error("received empty rewrite")
	}
}
