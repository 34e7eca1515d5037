package main

import (
	"context"
	"fmt"
	"io"

	"github.com/aiprophet/prophet/internal/tools/websearch"
)

// cliChatID keys the engine session used by one-shot commands.
const cliChatID int64 = 0

// runAsk sends one prompt through the engine and prints the answer.
func runAsk(ctx context.Context, out io.Writer, configPath, prompt string) error {
	cfg, logger, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}
	eng, err := buildEngine(ctx, cfg, logger, nil, nil)
	if err != nil {
		return err
	}

	reply, err := eng.Chat(ctx, cliChatID, prompt)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "[%s/%s]\n%s\n", reply.Provider, reply.Model, reply.Text)
	return nil
}

// runSearch prints formatted web search results.
func runSearch(ctx context.Context, out io.Writer, configPath, query string, limit int) error {
	cfg, logger, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}
	searcher := buildSearcher(cfg, nil, logger)

	results, err := searcher.Search(ctx, query, limit)
	if err != nil {
		fmt.Fprintln(out, websearch.FormatError(err))
		return err
	}
	fmt.Fprintln(out, websearch.Format(results))
	return nil
}
