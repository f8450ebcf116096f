package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zatekoja/concussionrehab/internal/domain/entities"
	"github.com/zatekoja/concussionrehab/internal/domain/providers"
	"github.com/zatekoja/concussionrehab/internal/infrastructure/observability"
	"github.com/zatekoja/concussionrehab/internal/triage"
	apperrors "github.com/zatekoja/concussionrehab/pkg/errors"
)

const (
	noteRuleBased         = "Generated using rule-based analysis"
	noteHostedUnavailable = "Generated using rule-based analysis (GitHub Models unavailable)"

	defaultHostedConfidence = 0.8
	maxDailyQuestions       = 7
	dailyHistoryLimit       = 5
)

var fallbackDailyQuestions = []string{
	"How would you rate your overall symptoms today (0-10)?",
	"Did you experience any headaches today?",
	"How was your sleep quality last night?",
	"Did you feel dizzy or have balance issues today?",
	"How was your concentration and focus today?",
	"Did you engage in any physical activity today?",
	"Are there any new or worsening symptoms to report?",
}

// AnalyzeRequest is one patient chat message to analyse.
type AnalyzeRequest struct {
	PatientID      string                   `json:"patientId"`
	Message        string                   `json:"message"`
	PatientContext *entities.PatientContext `json:"patientInfo,omitempty"`
	MedicalData    *entities.MedicalRecord  `json:"medicalData,omitempty"`
}

// conversationRecord is the raw message log kept next to each analysis.
type conversationRecord struct {
	PatientID   string                   `json:"patientId"`
	Message     string                   `json:"message"`
	Timestamp   time.Time                `json:"timestamp"`
	PatientInfo *entities.PatientContext `json:"patientInfo,omitempty"`
	Reviewed    bool                     `json:"reviewed"`
}

// AnalysisService turns patient messages into analyses, preferring the hosted
// model and falling back to the rule engine.
type AnalysisService struct {
	engine    *triage.Engine
	store     providers.KeyValueStore
	chat      providers.ChatCompletionProvider
	exemplars providers.ExemplarSource
	timeout   time.Duration
	metrics   *observability.Metrics
	now       func() time.Time
	newID     func() string
}

// NewAnalysisService creates an analysis service. chat and exemplars may be
// nil, in which case every analysis is rule-based.
func NewAnalysisService(
	engine *triage.Engine,
	store providers.KeyValueStore,
	chat providers.ChatCompletionProvider,
	exemplars providers.ExemplarSource,
	timeout time.Duration,
) *AnalysisService {
	if engine == nil {
		engine = triage.NewEngine(nil)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AnalysisService{
		engine:    engine,
		store:     store,
		chat:      chat,
		exemplars: exemplars,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// SetMetrics sets the metrics recorder
func (s *AnalysisService) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// SetClock overrides the time source
func (s *AnalysisService) SetClock(now func() time.Time) {
	s.now = now
}

// AnalyzeMessage analyses one message and stores it as pending clinician review.
func (s *AnalysisService) AnalyzeMessage(ctx context.Context, req AnalyzeRequest) (*entities.AnalysisResult, error) {
	if strings.TrimSpace(req.PatientID) == "" {
		return nil, apperrors.NewInvalidInputError("patient id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, apperrors.NewInvalidInputError("message is required")
	}

	ctx, span := observability.StartSpan(ctx, "AnalysisService.AnalyzeMessage")
	defer span.End()
	logger := observability.ComponentLogger(ctx, "analysis")

	now := s.now()
	prior := req.MedicalData
	if prior == nil {
		prior = s.loadMedicalRecord(ctx, req.PatientID)
	}

	rule := s.engine.Analyze(req.Message, prior, now)

	var result *entities.AnalysisResult
	if s.chat != nil {
		hosted, err := s.analyzeHosted(ctx, req, rule, prior, now)
		if err != nil {
			logger.Warn().Err(err).Str("patient_id", req.PatientID).Msg("Hosted analysis failed, using rule-based analysis")
			observability.RecordFallback(ctx, s.metrics, string(apperrors.TypeOf(err)))
			result = ruleBasedResult(rule, noteHostedUnavailable)
		} else {
			result = hosted
		}
	} else {
		result = ruleBasedResult(rule, noteRuleBased)
	}

	result.AnalysisID = s.newID()
	s.persist(ctx, req, result, now)

	observability.RecordAnalysis(ctx, s.metrics, string(result.AnalysisMethod), string(result.UrgencyLevel))
	logger.Info().
		Str("analysis_id", result.AnalysisID).
		Str("method", string(result.AnalysisMethod)).
		Str("urgency", string(result.UrgencyLevel)).
		Int("symptoms", len(result.Symptoms)).
		Msg("Message analysed")
	return result, nil
}

func ruleBasedResult(rule triage.Analysis, note string) *entities.AnalysisResult {
	return &entities.AnalysisResult{
		Response:             rule.Response,
		Recommendations:      rule.Recommendations,
		UrgencyLevel:         rule.Urgency,
		Symptoms:             rule.Symptoms,
		Confidence:           triage.RuleBasedConfidence,
		AnalysisMethod:       entities.AnalysisMethodRuleBased,
		DoctorReviewRequired: true,
		Note:                 note,
	}
}

// analyzeHosted runs the two hosted calls. Only a failure of the analysis
// call is returned; a failed reply call reuses the composed rule-based reply.
func (s *AnalysisService) analyzeHosted(ctx context.Context, req AnalyzeRequest, rule triage.Analysis, prior *entities.MedicalRecord, now time.Time) (*entities.AnalysisResult, error) {
	logger := observability.ComponentLogger(ctx, "analysis")

	var bundle *entities.FewShotBundle
	if s.exemplars != nil {
		b, err := s.exemplars.LoadExemplars(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to load exemplars, using base prompt")
		} else {
			bundle = b
		}
	}

	raw, err := s.complete(ctx, []entities.ChatMessage{
		{Role: entities.ChatRoleSystem, Content: buildAnalysisSystemPrompt(bundle)},
		{Role: entities.ChatRoleUser, Content: buildAnalysisUserPrompt(req.Message, rule.Symptoms, req.PatientContext, prior)},
	})
	if err != nil {
		return nil, err
	}

	parsed, err := parseHostedAnalysis(raw)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not parse hosted analysis, wrapping raw output")
		parsed = defaultHostedAnalysis(raw)
	}

	urgency := parsed.RiskAssessment.Level
	if !urgency.IsValid() {
		urgency = entities.UrgencyMedium
	}
	urgency = entities.MaxUrgency(urgency, rule.Urgency)

	confidence := defaultHostedConfidence
	if parsed.Confidence != nil {
		confidence = min(max(*parsed.Confidence, 0), 1)
	}

	reviewRequired := parsed.DoctorReviewRequired == nil || *parsed.DoctorReviewRequired

	recs := parsed.Recommendations
	if len(recs) == 0 {
		recs = rule.Recommendations
	}

	reply, err := s.complete(ctx, []entities.ChatMessage{
		{Role: entities.ChatRoleSystem, Content: replySystemPrompt},
		{Role: entities.ChatRoleUser, Content: buildReplyUserPrompt(rule.Symptoms, req.PatientContext, prior)},
	})
	if err != nil || reply == "" {
		if err != nil {
			logger.Warn().Err(err).Msg("Hosted reply failed, composing rule-based reply")
		}
		reply = s.engine.ComposeResponse(rule.Symptoms, urgency, prior, now)
	}

	return &entities.AnalysisResult{
		Response:             reply,
		Recommendations:      recs,
		UrgencyLevel:         urgency,
		Symptoms:             rule.Symptoms,
		Confidence:           confidence,
		AnalysisMethod:       entities.AnalysisMethodGitHubModels,
		DoctorReviewRequired: reviewRequired,
	}, nil
}

// complete bounds one hosted call by the service timeout. A deadline is
// reported as a provider error.
func (s *AnalysisService) complete(ctx context.Context, messages []entities.ChatMessage) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.chat.Complete(callCtx, messages)
	if err != nil {
		if apperrors.IsProvider(err) {
			return "", err
		}
		return "", apperrors.NewProviderError("chat completion failed", err)
	}
	return strings.TrimSpace(out), nil
}

// loadMedicalRecord is best-effort; a missing or unreadable record is nil.
func (s *AnalysisService) loadMedicalRecord(ctx context.Context, patientID string) *entities.MedicalRecord {
	var record entities.MedicalRecord
	found, err := getJSON(ctx, s.store, medicalKeyPrefix+patientID, &record)
	if err != nil {
		observability.ComponentLogger(ctx, "analysis").Warn().Err(err).Str("patient_id", patientID).Msg("Failed to load medical data")
		return nil
	}
	if !found {
		return nil
	}
	return &record
}

// persist stores the pending record and conversation log. Failures are
// logged; the caller still gets its analysis.
func (s *AnalysisService) persist(ctx context.Context, req AnalyzeRequest, result *entities.AnalysisResult, now time.Time) {
	logger := observability.ComponentLogger(ctx, "analysis")
	start := time.Now()
	defer func() { observability.RecordStoreOp(ctx, s.metrics, "persist_analysis", time.Since(start)) }()

	record := entities.AnalysisRecord{
		ConversationID:  result.AnalysisID,
		PatientID:       req.PatientID,
		AIResponse:      result.Response,
		Recommendations: result.Recommendations,
		UrgencyLevel:    result.UrgencyLevel,
		Symptoms:        result.Symptoms,
		Confidence:      result.Confidence,
		AnalysisMethod:  result.AnalysisMethod,
		Timestamp:       now,
	}
	if err := setJSON(ctx, s.store, analysisKey(result.AnalysisID), record); err != nil {
		logger.Error().Err(err).Str("analysis_id", result.AnalysisID).Msg("Failed to persist analysis record")
		return
	}

	convo := conversationRecord{
		PatientID:   req.PatientID,
		Message:     req.Message,
		Timestamp:   now,
		PatientInfo: req.PatientContext,
	}
	if err := setJSON(ctx, s.store, conversationKeyPrefix+result.AnalysisID, convo); err != nil {
		logger.Error().Err(err).Str("analysis_id", result.AnalysisID).Msg("Failed to persist conversation")
	}
}

// DailyQuestions returns today's check-in questions for a patient. Without a
// hosted model, or when it fails, the fixed list is returned.
func (s *AnalysisService) DailyQuestions(ctx context.Context, patientID string) ([]string, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, apperrors.NewInvalidInputError("patient id is required")
	}
	if s.chat == nil {
		return fallbackQuestions(), nil
	}

	logger := observability.ComponentLogger(ctx, "analysis")

	records, err := listAnalysisRecords(ctx, s.store)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load history for daily questions")
		records = nil
	}
	recent := make([]entities.AnalysisRecord, 0, dailyHistoryLimit)
	for _, r := range records {
		if r.PatientID == patientID {
			recent = append(recent, r)
			if len(recent) == dailyHistoryLimit {
				break
			}
		}
	}

	raw, err := s.complete(ctx, []entities.ChatMessage{
		{Role: entities.ChatRoleSystem, Content: dailyQuestionsSystemPrompt},
		{Role: entities.ChatRoleUser, Content: buildDailyQuestionsUserPrompt(recent)},
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Hosted daily questions failed, using fallback list")
		observability.RecordFallback(ctx, s.metrics, "daily_questions")
		return fallbackQuestions(), nil
	}

	questions := make([]string, 0, maxDailyQuestions)
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		questions = append(questions, line)
		if len(questions) == maxDailyQuestions {
			break
		}
	}
	if len(questions) == 0 {
		return fallbackQuestions(), nil
	}
	return questions, nil
}

func fallbackQuestions() []string {
	return append([]string(nil), fallbackDailyQuestions...)
}
