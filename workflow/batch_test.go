package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psworks/scriptflow/tool"
)

func TestAnalyzeBatch_MixedOutcomes(t *testing.T) {
	reasoner := &autoReasoner{tools: []string{tool.SecurityScanName}}
	c, _ := testController(reasoner, nil, Config{})

	requests := []AnalyzeRequest{
		{ScriptContent: benignScript},
		{ScriptContent: benignScript},
		{ScriptContent: benignScript},
		{}, // rejected by validation
		{ScriptContent: "# broken model\n" + reasonerFailMarker},
	}

	batch := c.AnalyzeBatch(context.Background(), requests, 3)

	assert.Equal(t, 5, batch.Total)
	assert.Equal(t, 3, batch.Successful)
	assert.Equal(t, 2, batch.Failed)
	assert.Equal(t, batch.Total, batch.Successful+batch.Failed)
	require.Len(t, batch.Items, 5)

	// Items keep submission order regardless of which worker ran them.
	for i, item := range batch.Items {
		assert.Equal(t, i, item.Index)
	}

	threads := map[string]bool{}
	for _, item := range batch.Items[:3] {
		require.NoError(t, item.Err)
		require.NotNil(t, item.Result)
		assert.Equal(t, StatusCompleted, item.Result.Status)
		assert.NotEmpty(t, item.ThreadID)
		threads[item.ThreadID] = true
	}
	// Each request got its own thread.
	assert.Len(t, threads, 3)

	var verr *ValidationError
	require.Error(t, batch.Items[3].Err)
	assert.ErrorAs(t, batch.Items[3].Err, &verr)
	assert.Nil(t, batch.Items[3].Result)

	// The model failing mid-run fails that workflow only.
	require.NoError(t, batch.Items[4].Err)
	assert.Equal(t, StatusFailed, batch.Items[4].Result.Status)
}

func TestAnalyzeBatch_Empty(t *testing.T) {
	c, _ := testController(&autoReasoner{}, nil, Config{})

	batch := c.AnalyzeBatch(context.Background(), nil, 4)

	assert.Equal(t, 0, batch.Total)
	assert.Empty(t, batch.Items)
}

func TestAnalyzeBatch_WorkersDefaulted(t *testing.T) {
	reasoner := &autoReasoner{tools: []string{tool.ScriptAnalysisName}}
	c, _ := testController(reasoner, nil, Config{})

	requests := []AnalyzeRequest{
		{ScriptContent: benignScript},
		{ScriptContent: benignScript},
	}

	batch := c.AnalyzeBatch(context.Background(), requests, 0)

	assert.Equal(t, 2, batch.Successful)
	assert.Equal(t, 0, batch.Failed)
}

func TestAnalyzeBatch_PausedCountsAsSuccessful(t *testing.T) {
	reasoner := &autoReasoner{tools: []string{tool.SecurityScanName}}
	c, _ := testController(reasoner, nil, Config{})

	batch := c.AnalyzeBatch(context.Background(), []AnalyzeRequest{
		{ScriptContent: riskyScript, RequireHumanReview: true},
	}, 1)

	assert.Equal(t, 1, batch.Successful)
	require.NotNil(t, batch.Items[0].Result)
	assert.Equal(t, StatusPaused, batch.Items[0].Result.Status)
}
