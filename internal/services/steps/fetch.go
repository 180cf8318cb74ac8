package steps

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/services/webfetch"
	"github.com/ternarybob/arbor"
)

// Fetch handler slugs
const (
	HandlerStatic  = "static"
	HandlerWebPage = "web_page"
)

// FetchedItem is one source item returned by a fetch handler
type FetchedItem struct {
	ID        string
	Title     string
	Body      string
	SourceURL string
	ImageURL  string
	Metadata  map[string]interface{}
}

// SeenFunc reports whether the flow step already processed an item id
type SeenFunc func(itemID string) (bool, error)

// FetchHandler returns the first source item not yet seen, or nil when there is none
type FetchHandler interface {
	Fetch(ctx context.Context, config map[string]interface{}, seen SeenFunc) (*FetchedItem, error)
}

// FetchStep pulls one new item per job from the step's handler
type FetchStep struct {
	processed interfaces.ProcessedItemStorage
	engine    interfaces.EngineDataService
	logger    arbor.ILogger

	mu       sync.RWMutex
	handlers map[string]FetchHandler
}

// NewFetchStep creates a new fetch step type
func NewFetchStep(processed interfaces.ProcessedItemStorage, engine interfaces.EngineDataService, logger arbor.ILogger) *FetchStep {
	return &FetchStep{
		processed: processed,
		engine:    engine,
		logger:    logger,
		handlers:  make(map[string]FetchHandler),
	}
}

// RegisterHandler adds a fetch handler under slug
func (s *FetchStep) RegisterHandler(slug string, handler FetchHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[slug] = handler
}

// Execute fetches the next unprocessed item. It returns no packets when the
// source has nothing new.
func (s *FetchStep) Execute(ctx context.Context, request *interfaces.StepRequest) ([]models.DataPacket, error) {
	step, err := stepConfig(request)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	handler, ok := s.handlers[step.HandlerSlug]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown fetch handler %q", step.HandlerSlug)
	}

	seen := func(itemID string) (bool, error) {
		return s.processed.HasProcessed(ctx, request.FlowStepID, step.HandlerSlug, itemID)
	}
	item, err := handler.Fetch(ctx, step.HandlerConfig, seen)
	if err != nil {
		return nil, fmt.Errorf("%s fetch failed: %w", step.HandlerSlug, err)
	}
	if item == nil {
		s.logger.Info().
			Int64("job_id", request.JobID).
			Str("flow_step_id", request.FlowStepID).
			Str("handler", step.HandlerSlug).
			Msg("No new items")
		return nil, nil
	}

	if err := s.processed.MarkProcessed(ctx, &models.ProcessedItem{
		FlowStepID: request.FlowStepID,
		SourceType: step.HandlerSlug,
		ItemID:     item.ID,
		JobID:      request.JobID,
	}); err != nil {
		return nil, err
	}

	patch := models.EngineData{}
	if item.SourceURL != "" {
		patch[models.EngineKeySourceURL] = item.SourceURL
	}
	if item.ImageURL != "" {
		patch[models.EngineKeyImageURL] = item.ImageURL
	}
	if len(patch) > 0 {
		if _, err := s.engine.Merge(ctx, request.JobID, patch); err != nil {
			return nil, err
		}
	}

	metadata := map[string]interface{}{
		"item_id":                  item.ID,
		"handler":                  step.HandlerSlug,
		models.PacketMetaFlowStepID: request.FlowStepID,
	}
	if item.SourceURL != "" {
		metadata[models.PacketMetaSourceURL] = item.SourceURL
	}
	for k, v := range item.Metadata {
		metadata[k] = v
	}

	s.logger.Info().
		Int64("job_id", request.JobID).
		Str("flow_step_id", request.FlowStepID).
		Str("item_id", item.ID).
		Msg("Fetched item")

	packet := models.NewDataPacket(models.PacketTypeFetch, item.Title, item.Body, metadata)
	return models.PrependPackets([]models.DataPacket{packet}, request.Data), nil
}

// StaticHandler serves items declared in the handler config, either a single
// title/body pair or an "items" list.
type StaticHandler struct{}

// Fetch returns the first undeclared-as-seen static item
func (StaticHandler) Fetch(ctx context.Context, config map[string]interface{}, seen SeenFunc) (*FetchedItem, error) {
	var candidates []map[string]interface{}
	if list, ok := config["items"].([]interface{}); ok {
		for _, raw := range list {
			if item, ok := raw.(map[string]interface{}); ok {
				candidates = append(candidates, item)
			}
		}
	} else if config != nil {
		candidates = append(candidates, config)
	}

	for _, candidate := range candidates {
		item := &FetchedItem{
			ID:        configString(candidate, "id"),
			Title:     configString(candidate, "title"),
			Body:      configString(candidate, "body"),
			SourceURL: configString(candidate, "source_url"),
		}
		if item.Body == "" {
			continue
		}
		if item.ID == "" {
			item.ID = item.Title
		}
		if item.ID == "" {
			item.ID = item.Body
		}
		done, err := seen(item.ID)
		if err != nil {
			return nil, err
		}
		if !done {
			return item, nil
		}
	}
	return nil, nil
}

// WebPageHandler fetches configured URLs, one unseen page per run
type WebPageHandler struct {
	fetcher *webfetch.Fetcher
}

// NewWebPageHandler creates a web page fetch handler
func NewWebPageHandler(fetcher *webfetch.Fetcher) *WebPageHandler {
	return &WebPageHandler{fetcher: fetcher}
}

// Fetch loads the first configured URL that has not been processed
func (h *WebPageHandler) Fetch(ctx context.Context, config map[string]interface{}, seen SeenFunc) (*FetchedItem, error) {
	var urls []string
	if url := configString(config, "url"); url != "" {
		urls = append(urls, url)
	}
	if list, ok := config["urls"].([]interface{}); ok {
		for _, raw := range list {
			if url, ok := raw.(string); ok && strings.TrimSpace(url) != "" {
				urls = append(urls, strings.TrimSpace(url))
			}
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("web_page handler requires url or urls")
	}

	for _, url := range urls {
		done, err := seen(url)
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}
		page, err := h.fetcher.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		return &FetchedItem{
			ID:        url,
			Title:     page.Title,
			Body:      page.Markdown,
			SourceURL: page.URL,
			ImageURL:  page.ImageURL,
			Metadata:  map[string]interface{}{"description": page.Description},
		}, nil
	}
	return nil, nil
}

func configString(config map[string]interface{}, key string) string {
	s, _ := config[key].(string)
	return strings.TrimSpace(s)
}
