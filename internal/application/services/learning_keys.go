package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zatekoja/concussionrehab/internal/domain/entities"
	"github.com/zatekoja/concussionrehab/internal/domain/providers"
	"github.com/zatekoja/concussionrehab/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/concussionrehab/pkg/errors"
)

// Key layout of the learning store.
const (
	analysisKeyPrefix     = "ai_response_"
	conversationKeyPrefix = "conversation_"
	medicalKeyPrefix      = "patient_medical_"
	trainingKeyPrefix     = "training_data_"
	metricsKeyPrefix      = "model_metrics_"
	successKeyPrefix      = "success_patterns_"
	failureKeyPrefix      = "failure_patterns_"
	fewShotKey            = "few_shot_examples"
)

func analysisKey(id string) string { return analysisKeyPrefix + id }

func metricsKey(method entities.AnalysisMethod) string { return metricsKeyPrefix + string(method) }

// reviewKey names the log entry one review writes under prefix. It is
// derived from the review so a resumed review overwrites instead of
// appending twice.
func reviewKey(prefix string, reviewedAt time.Time, analysisID string) string {
	return fmt.Sprintf("%s%d_%s", prefix, reviewedAt.UnixMilli(), analysisID)
}

// storeError passes typed errors through and classifies anything else as the
// store being unavailable.
func storeError(message string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.NewStoreUnavailableError(message, err)
}

func setJSON(ctx context.Context, store providers.KeyValueStore, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.NewInternalError("failed to encode "+key, err)
	}
	if err := store.Set(ctx, key, data); err != nil {
		return storeError("failed to write "+key, err)
	}
	return nil
}

func getJSON(ctx context.Context, store providers.KeyValueStore, key string, v any) (bool, error) {
	data, found, err := store.Get(ctx, key)
	if err != nil {
		return false, storeError("failed to read "+key, err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, apperrors.NewInternalError("failed to decode "+key, err)
	}
	return true, nil
}

// listJSON decodes every entry under prefix. Undecodable entries are logged
// and skipped so one bad row does not hide the rest.
func listJSON[T any](ctx context.Context, store providers.KeyValueStore, prefix string) ([]T, []string, error) {
	entries, err := store.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, nil, storeError("failed to list "+prefix, err)
	}

	out := make([]T, 0, len(entries))
	keys := make([]string, 0, len(entries))
	for _, kv := range entries {
		var v T
		if err := json.Unmarshal(kv.Value, &v); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).Str("key", kv.Key).Msg("Skipping undecodable learning store entry")
			continue
		}
		out = append(out, v)
		keys = append(keys, kv.Key)
	}
	return out, keys, nil
}

func listAnalysisRecords(ctx context.Context, store providers.KeyValueStore) ([]entities.AnalysisRecord, error) {
	records, _, err := listJSON[entities.AnalysisRecord](ctx, store, analysisKeyPrefix)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.After(records[j].Timestamp)
		}
		return records[i].ConversationID > records[j].ConversationID
	})
	return records, nil
}

// keyedMutex hands out one mutex per key and frees it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func trimKeyPrefix(key, prefix string) string {
	return strings.TrimPrefix(key, prefix)
}
