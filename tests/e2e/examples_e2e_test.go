package e2e

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotwise/driveline/pkg/schema"
)

// The shipped example specs double as fixtures: each one must build and run
// to its documented outcome against the real tool packs.

var examplesDir = filepath.Join("..", "..", "examples", "workflows")

func loadExampleSpec(t *testing.T, name string) *schema.WorkflowSpec {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(examplesDir, name))
	require.NoError(t, err)
	var spec schema.WorkflowSpec
	require.NoError(t, json.Unmarshal(data, &spec))
	return &spec
}

// TestExampleSpecsAllBuild builds every example in the directory, so adding a
// broken spec fails here before it confuses anyone reading the examples.
func TestExampleSpecsAllBuild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	files, err := os.ReadDir(examplesDir)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		t.Run(f.Name(), func(t *testing.T) {
			spec := loadExampleSpec(t, f.Name())
			_, err := h.engine.Build(ctx, h.sandbox.ID, h.session.ID, spec)
			require.NoError(t, err)
		})
	}
}

func TestExampleTradeInAppraisal(t *testing.T) {
	h := newHarness(t)

	wf := h.run(loadExampleSpec(t, "trade-in-appraisal.json"))

	assert.Equal(t, schema.WorkflowStatusCompleted, wf.Status)

	appraise := stepResult(t, wf, "appraise")
	assert.Greater(t, appraise["estimated_value"].(float64), 0.0)

	// Every SUV in the demo fleet is under the 47k cap, cheapest first.
	match := stepResult(t, wf, "match")
	assert.Equal(t, float64(4), match["count"])

	drive := stepResult(t, wf, "drive")
	assert.Equal(t, "3GNAXUEV1ML40001", drive["vin"])
	assert.Equal(t, "BOOKED", drive["status"])
	confirmation, _ := drive["confirmation"].(string)
	assert.True(t, strings.HasPrefix(confirmation, "TD-"), "confirmation %q", confirmation)
}

func TestExampleAgedInventoryReview(t *testing.T) {
	h := newHarness(t)

	wf := h.run(loadExampleSpec(t, "aged-inventory-review.json"))

	assert.Equal(t, schema.WorkflowStatusCompleted, wf.Status)
	for _, step := range wf.Steps {
		assert.Equal(t, schema.StepStatusCompleted, step.Status, "step %s", step.ID)
	}

	// 74 days on lot and a 4.1% conversion rate trip two static alerts, which
	// opens both gates downstream.
	alerts, _ := stepResult(t, wf, "pulse")["alerts"].([]any)
	require.Len(t, alerts, 2)

	assert.Equal(t, float64(4), stepResult(t, wf, "aged_suvs")["count"])
	assert.Equal(t, "queued", stepResult(t, wf, "push_campaign")["status"])
}

func TestExampleMorningLotSync(t *testing.T) {
	h := newHarness(t)

	wf := h.run(loadExampleSpec(t, "morning-lot-sync.json"))

	assert.Equal(t, schema.WorkflowStatusCompleted, wf.Status)

	digest, _ := stepResult(t, wf, "digest")["result"].(map[string]any)
	require.NotNil(t, digest)
	assert.Equal(t, float64(2), digest["trucks"])
	assert.Equal(t, float64(4), digest["suvs"])
	assert.Equal(t, float64(6), digest["total"])
}

func TestExampleRollbackDemo(t *testing.T) {
	h := newHarness(t)

	wf, err := h.runExpectFail(loadExampleSpec(t, "rollback-demo.json"))
	require.Error(t, err)

	assert.Equal(t, schema.WorkflowStatusRolledBack, wf.Status)
	assert.Equal(t, schema.StepStatusCompleted, wf.Step("hold_slot").Status)
	assert.Equal(t, schema.StepStatusFailed, wf.Step("finance").Status)

	// The booked slot was released through its compensation tool.
	types := replayTypes(h.replay.Entries(wf.CorrelationID))
	assert.Contains(t, types, schema.EventStepRolledBack)
	assert.Contains(t, types, schema.EventRollbackCompleted)
}
