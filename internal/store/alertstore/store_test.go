package alertstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealwatch/internal/decision"
	"sealwatch/internal/plan"
	"sealwatch/internal/regime"
	"sealwatch/internal/scoring"
	"sealwatch/internal/trigger"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRecord(symbol string, action decision.Action, snapID string) decision.Record {
	return decision.Record{
		Agent:      decision.AgentName,
		Version:    decision.EngineVersion,
		TS:         "2026-03-02T10:15:00+08:00",
		Symbol:     symbol,
		StrategyID: "reseal",
		Action:     action,
		Confidence: 0.9,
		Triggers: []trigger.Result{
			{Name: "environment_gate", Status: trigger.Pass, Detail: "YELLOW", Required: true},
			{Name: "pullback_limit", Status: trigger.Fail, Detail: "0.12 > 0.08"},
		},
		Plan: plan.Plan{
			MaxSinglePosition: 0.1,
			ExitRules:         []plan.ExitRule{{Kind: plan.ExitNoReseal, Text: "x"}},
		},
		Risks:      []string{},
		Warnings:   []string{},
		SnapshotID: snapID,
		Regime:     regime.Assessment{Light: regime.Yellow, Mode: regime.Normal},
		Score:      scoring.CandidateScore{Symbol: symbol, StrategyID: "reseal", Total: 39.68, Rank: 1},
		OneLiner:   "可执行 | 得分 39.7 | 仓位 10.0% | 条件 1/2 通过",
		Source:     decision.SourceEngine,
	}
}

func TestAppendAndGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)

	a, err := s.Append(ctx, sampleRecord("600001", decision.Allow, "snap_a"), at)
	require.NoError(t, err)
	assert.Len(t, a.ID, 26)
	assert.Equal(t, LabelUnlabeled, a.Label)
	assert.Equal(t, "YELLOW", a.Light)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, at.UnixMilli(), got.CreatedAt.UnixMilli())
	assert.Equal(t, sampleRecord("600001", decision.Allow, "snap_a"), got.Record)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateLabel(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	a, err := s.Append(ctx, sampleRecord("600001", decision.Watch, "snap_a"), time.Now())
	require.NoError(t, err)

	got, err := s.UpdateLabel(ctx, a.ID, LabelSuccess, "  封住了 ")
	require.NoError(t, err)
	assert.Equal(t, LabelSuccess, got.Label)
	assert.Equal(t, "封住了", got.Note)
	require.NotNil(t, got.LabeledAt)
	assert.Equal(t, a.Record, got.Record, "record is immutable")

	_, err = s.UpdateLabel(ctx, a.ID, Label("maybe"), "")
	assert.ErrorIs(t, err, ErrInvalidLabel)
	_, err = s.UpdateLabel(ctx, a.ID, LabelUnlabeled, "")
	assert.ErrorIs(t, err, ErrInvalidLabel, "unlabeled is only the initial state")
	_, err = s.UpdateLabel(ctx, "nope", LabelFail, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndBySnapshot(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	_, err := s.Append(ctx, sampleRecord("600001", decision.Allow, "snap_a"), base)
	require.NoError(t, err)
	_, err = s.Append(ctx, sampleRecord("000002", decision.Watch, "snap_a"), base.Add(time.Second))
	require.NoError(t, err)
	_, err = s.Append(ctx, sampleRecord("600001", decision.Watch, "snap_b"), base.Add(2*time.Second))
	require.NoError(t, err)

	all, err := s.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "snap_b", all[0].SnapshotID, "newest first")

	only, err := s.List(ctx, Query{Symbol: " 600001", Action: decision.Allow})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "snap_a", only[0].SnapshotID)

	limited, err := s.List(ctx, Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	bySnap, err := s.BySnapshot(ctx, "snap_a")
	require.NoError(t, err)
	require.Len(t, bySnap, 2)
	assert.Equal(t, "600001", bySnap[0].Symbol)
	assert.Equal(t, "000002", bySnap[1].Symbol)

	window, err := s.Since(ctx, base.Add(time.Second), base.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "000002", window[0].Symbol)
}

func TestStats(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Now()

	empty, err := s.Stats(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.WinRate)

	labels := []Label{LabelSuccess, LabelSuccess, LabelFail, LabelSkip}
	for i, l := range labels {
		a, err := s.Append(ctx, sampleRecord("600001", decision.Allow, "snap"), now.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, err)
		_, err = s.UpdateLabel(ctx, a.ID, l, "")
		require.NoError(t, err)
	}
	_, err = s.Append(ctx, sampleRecord("000002", decision.Watch, "snap"), now)
	require.NoError(t, err)

	st, err := s.Stats(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 5, st.Total)
	assert.EqualValues(t, 4, st.ByAction["ALLOW"])
	assert.EqualValues(t, 1, st.ByAction["WATCH"])
	assert.EqualValues(t, 2, st.ByLabel["success"])
	assert.EqualValues(t, 1, st.ByLabel["unlabeled"])
	assert.InDelta(t, 2.0/3.0, st.WinRate, 1e-9)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}
