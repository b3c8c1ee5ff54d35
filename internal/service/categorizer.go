package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jask/moneysync/internal/category"
	"github.com/jask/moneysync/internal/database"
	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/llm"
	"github.com/jask/moneysync/internal/logger"
)

const defaultConfidenceThreshold = 0.5

// ErrLabelNotInVocabulary is returned when a classifier answers outside the
// closed label set.
var ErrLabelNotInVocabulary = errors.New("classifier label not in vocabulary")

// CategorizerService fills ai_category for transactions that have neither a
// manual nor an automated category.
type CategorizerService struct {
	Transactions *repository.TransactionRepo
	Classifier   llm.Classifier
	Vocabulary   *category.Vocabulary
	// MinConfidence below which answers are discarded; zero uses the default.
	MinConfidence float64
	Log           zerolog.Logger
}

// CategorizeResult summarises a batch run.
type CategorizeResult struct {
	Processed   int
	Categorized int
	Skipped     int
	Errors      []string
}

func (s *CategorizerService) vocabulary() *category.Vocabulary {
	if s.Vocabulary == nil {
		s.Vocabulary = category.DefaultVocabulary()
	}
	return s.Vocabulary
}

func (s *CategorizerService) threshold() float64 {
	if s.MinConfidence <= 0 {
		return defaultConfidenceThreshold
	}
	return s.MinConfidence
}

// CategorizeTransaction classifies tx and stores the label. It reports false
// when tx already has a category or the answer was not confident enough.
func (s *CategorizerService) CategorizeTransaction(ctx context.Context, tx repository.Transaction) (bool, error) {
	if category.IsPresent(tx.ManualCategory) || category.IsPresent(tx.AICategory) {
		return false, nil
	}
	if s.Classifier == nil {
		return false, fmt.Errorf("categorizer: no classifier configured")
	}
	vocab := s.vocabulary()
	resp, err := s.Classifier.Classify(ctx, llm.ClassifyRequest{
		Name:             tx.Name,
		MerchantName:     tx.MerchantName,
		Description:      tx.OriginalDescription,
		Amount:           tx.Amount,
		Date:             database.FormatDate(tx.Date),
		PaymentChannel:   tx.PaymentChannel,
		ProviderCategory: tx.ProviderCategory,
		Labels:           vocab.Labels(),
	})
	if err != nil {
		return false, fmt.Errorf("classify %s: %w", tx.ID, err)
	}
	label, ok := vocab.Canonical(resp.Category)
	if !ok {
		return false, fmt.Errorf("%w: %q for %s", ErrLabelNotInVocabulary, resp.Category, tx.ID)
	}
	if resp.Confidence < s.threshold() {
		log := s.logFor(ctx)
		log.Debug().Str("transaction_id", tx.ID).Str("label", label).Float64("confidence", resp.Confidence).Msg("low confidence, skipped")
		return false, nil
	}
	updated, err := s.Transactions.SetAICategory(ctx, tx.ID, label, resp.Reasoning)
	if err != nil {
		return false, fmt.Errorf("store category %s: %w", tx.ID, err)
	}
	return updated, nil
}

// CategorizeUnclassified classifies up to limit transactions with no manual or
// automated category, oldest first. limit <= 0 means all.
func (s *CategorizerService) CategorizeUnclassified(ctx context.Context, limit int) (CategorizeResult, error) {
	txs, err := s.Transactions.ListUnclassified(ctx, limit)
	if err != nil {
		return CategorizeResult{}, err
	}
	return s.categorizeAll(ctx, txs)
}

// CategorizeIDs classifies the given transactions, typically the rows a sync
// just created.
func (s *CategorizerService) CategorizeIDs(ctx context.Context, ids []string) (CategorizeResult, error) {
	if len(ids) == 0 {
		return CategorizeResult{}, nil
	}
	txs, err := s.Transactions.ListByIDs(ctx, ids)
	if err != nil {
		return CategorizeResult{}, err
	}
	return s.categorizeAll(ctx, txs)
}

// logFor prefers a logger carried by ctx, such as the per-run logger of a sync.
func (s *CategorizerService) logFor(ctx context.Context) zerolog.Logger {
	if l := logger.FromContext(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return s.Log
}

func (s *CategorizerService) categorizeAll(ctx context.Context, txs []repository.Transaction) (CategorizeResult, error) {
	log := s.logFor(ctx)
	var res CategorizeResult
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Processed++
		ok, err := s.CategorizeTransaction(ctx, tx)
		switch {
		case err != nil:
			res.Errors = append(res.Errors, err.Error())
			log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("categorize failed")
		case ok:
			res.Categorized++
		default:
			res.Skipped++
		}
	}
	log.Info().Int("processed", res.Processed).Int("categorized", res.Categorized).Int("errors", len(res.Errors)).Msg("categorize finished")
	return res, nil
}
