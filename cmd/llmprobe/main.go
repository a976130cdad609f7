package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/protocolpilot/protocolpilot/internal/common"
	"github.com/protocolpilot/protocolpilot/internal/llm"
)

// llmprobe fires one structured-output call at the configured reasoning
// service and prints the raw JSON it got back. Quick connectivity and
// model-behavior check before pointing the daemon at an endpoint.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	client := llm.NewHTTPClient(cfg.LLM, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	raw, err := client.CallJSON(ctx, llm.Request{
		System: "You classify scientific text. Output STRICT JSON only.",
		User: `Does the following text describe a medical imaging acquisition? Text:
"Axial CT images were acquired at 120 kVp with 1.25 mm slice thickness and a B30f kernel."`,
		Schema: llm.BuildVerdictJSONSchema(),
	})
	if err != nil {
		logger.Error("probe failed", "base_url", cfg.LLM.BaseURL, "model", cfg.LLM.Model, "error", err)
		os.Exit(1)
	}

	fmt.Println(string(raw))
	logger.Info("probe ok", "base_url", cfg.LLM.BaseURL, "model", cfg.LLM.Model)
}
