package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

const digestTOML = `
[pipeline]
name = "news-digest"

[[pipeline.steps]]
id = "fetch"
type = "fetch"
order = 0

[[pipeline.steps]]
id = "ai"
type = "ai"
order = 1
system_prompt = "Summarize the article."
provider = "claude"

[[pipeline.steps]]
id = "publish"
type = "publish"
order = 2

[[flows]]
name = "hn-digest"
schedule = "daily"

[flows.steps.fetch]
handler = "web_page"
handler_config = { url = "https://news.ycombinator.com" }

[flows.steps.ai]
prompt_queue = ["first topic"]

[flows.steps.publish]
handler = "markdown_file"
`

const reportYAML = `
pipeline:
  name: weekly-report
  steps:
    - id: ai
      type: ai
      order: 0
flows:
  - name: report
    schedule: manual
    steps:
      ai:
        user_message: Write the weekly report.
`

func TestLoadFlowDefinitionsFromFiles(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	pipelines := NewPipelineStorage(db, logger)
	flows := NewFlowStorage(db, logger)
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "digest.toml"), []byte(digestTOML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.yaml"), []byte(reportYAML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.toml"), []byte("[pipeline"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	loaded, err := LoadFlowDefinitionsFromFiles(ctx, pipelines, flows, dir, logger)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	digest, err := flows.GetFlowByName(ctx, "hn-digest")
	require.NoError(t, err)
	assert.Equal(t, "daily", digest.SchedulingConfig.Interval)

	fetchStep := digest.FlowConfig[models.FlowStepID("fetch", digest.ID)]
	require.NotNil(t, fetchStep)
	assert.Equal(t, "web_page", fetchStep.HandlerSlug)
	assert.Equal(t, "https://news.ycombinator.com", fetchStep.HandlerConfig["url"])

	first, ok := digest.FlowConfig.ByOrder(0)
	require.True(t, ok)
	assert.Equal(t, models.StepTypeFetch, first.StepType)

	pipeline, err := pipelines.GetPipeline(ctx, digest.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, "Summarize the article.", pipeline.PipelineConfig["ai"].SystemPrompt)

	report, err := flows.GetFlowByName(ctx, "report")
	require.NoError(t, err)
	assert.True(t, report.SchedulingConfig.IsManual())
	assert.Equal(t, "Write the weekly report.", report.FlowConfig[models.FlowStepID("ai", report.ID)].UserMessage)
}

func TestLoadFlowDefinitions_ReloadKeepsIDsAndQueues(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	pipelines := NewPipelineStorage(db, logger)
	flows := NewFlowStorage(db, logger)
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "digest.toml"), []byte(digestTOML), 0644))

	_, err := LoadFlowDefinitionsFromFiles(ctx, pipelines, flows, dir, logger)
	require.NoError(t, err)
	original, err := flows.GetFlowByName(ctx, "hn-digest")
	require.NoError(t, err)

	aiStepID := models.FlowStepID("ai", original.ID)
	_, err = flows.UpdateFlow(ctx, original.ID, func(f *models.Flow) error {
		f.FlowConfig[aiStepID].PromptQueue = []string{"runtime topic"}
		return nil
	})
	require.NoError(t, err)

	_, err = LoadFlowDefinitionsFromFiles(ctx, pipelines, flows, dir, logger)
	require.NoError(t, err)

	reloaded, err := flows.GetFlowByName(ctx, "hn-digest")
	require.NoError(t, err)
	assert.Equal(t, original.ID, reloaded.ID)
	assert.Equal(t, []string{"runtime topic"}, reloaded.FlowConfig[aiStepID].PromptQueue)
}

func TestFlowDefinitionFile_Validate(t *testing.T) {
	file := &FlowDefinitionFile{
		Pipeline: PipelineDefinition{
			Name: "gaps",
			Steps: []PipelineStepDefinition{
				{ID: "a", Type: "fetch", Order: 0},
				{ID: "b", Type: "ai", Order: 2},
			},
		},
	}
	assert.Error(t, file.Validate(), "orders must be dense")

	file.Pipeline.Steps[1].Order = 1
	assert.NoError(t, file.Validate())

	file.Flows = []FlowDefinition{{Name: "f", Steps: map[string]FlowStepDefinition{"missing": {}}}}
	assert.Error(t, file.Validate())

	file.Flows = []FlowDefinition{{Name: "f", Schedule: models.IntervalOneTime}}
	assert.Error(t, file.Validate(), "one_time needs run_at")

	file.Flows = []FlowDefinition{{Name: "f", Schedule: models.IntervalOneTime, RunAt: "2030-01-02T15:04:05Z"}}
	assert.NoError(t, file.Validate())
}

func TestFlowDefinitionFile_StepIDRejectsPipe(t *testing.T) {
	file := &FlowDefinitionFile{
		Pipeline: PipelineDefinition{
			Name:  "pipes",
			Steps: []PipelineStepDefinition{{ID: "fetch|1", Type: "fetch", Order: 0}},
		},
	}
	assert.NotPanics(t, func() { _ = file.Validate() })
	assert.Error(t, file.Validate())

	file.Pipeline.Steps[0].ID = "fetch"
	assert.NoError(t, file.Validate())
}

func TestLoadFlowDefinitions_ShippedDeployment(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	pipelines := NewPipelineStorage(db, logger)
	flows := NewFlowStorage(db, logger)
	ctx := context.Background()

	var loaded []*models.Flow
	var err error
	require.NotPanics(t, func() {
		loaded, err = LoadFlowDefinitionsFromFiles(ctx, pipelines, flows, filepath.Join("..", "..", "..", "deployments", "local", "flows"), logger)
	})
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	digest, err := flows.GetFlowByName(ctx, "go-blog-digest")
	require.NoError(t, err)
	assert.Equal(t, "daily", digest.SchedulingConfig.Interval)
	assert.Len(t, digest.FlowConfig.Ordered(), 3)

	publishStep, ok := digest.FlowConfig.ByOrder(2)
	require.True(t, ok)
	assert.Equal(t, "markdown_file", publishStep.HandlerSlug)
}
