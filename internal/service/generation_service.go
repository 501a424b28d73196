package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/generate"
	"github.com/unclebandit/steadyletters-backend/internal/tier"
)

const MaxImagesPerRequest = 4

// ErrNothingGenerated is returned when every upstream generation attempt failed.
var ErrNothingGenerated = errors.New("no content was generated")

// GenerationService gates AI calls behind the usage ledger. Each call reserves
// quota, runs the generation, then releases whatever was not produced.
type GenerationService struct {
	Usage     *UsageService
	Generator generate.Generator
}

func (s *GenerationService) GenerateLetter(ctx context.Context, accountID string, p generate.LetterPrompt) (string, error) {
	if _, err := s.Usage.Reserve(ctx, accountID, tier.ActionLetter, 1); err != nil {
		return "", err
	}
	letter, err := s.Generator.GenerateLetter(ctx, p)
	if err != nil {
		s.Usage.releaseQuietly(ctx, accountID, tier.ActionLetter, 1)
		return "", fmt.Errorf("%w: %v", ErrNothingGenerated, err)
	}
	return letter, nil
}

type ImageResult struct {
	URLs      []string `json:"urls"`
	Requested int      `json:"requested"`
	Produced  int      `json:"produced"`
}

// GenerateImages produces up to count images concurrently, capped by the
// remaining image quota, and keeps only the number that succeeded on the ledger.
func (s *GenerationService) GenerateImages(ctx context.Context, accountID, prompt string, count int) (*ImageResult, error) {
	if count < 1 || count > MaxImagesPerRequest {
		return nil, appErrors.NewValidation("count", fmt.Sprintf("must be between 1 and %d", MaxImagesPerRequest))
	}
	granted, err := s.Usage.ReserveUpTo(ctx, accountID, tier.ActionImage, count)
	if err != nil {
		return nil, err
	}

	urls := make([]string, granted)
	var wg sync.WaitGroup
	for i := 0; i < granted; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url, err := s.Generator.GenerateImage(ctx, prompt)
			if err != nil {
				slog.Warn("image generation failed", "account_id", accountID, "index", i, "error", err)
				return
			}
			urls[i] = url
		}(i)
	}
	wg.Wait()

	result := &ImageResult{URLs: []string{}, Requested: count}
	for _, u := range urls {
		if u != "" {
			result.URLs = append(result.URLs, u)
		}
	}
	result.Produced = len(result.URLs)
	s.Usage.releaseQuietly(ctx, accountID, tier.ActionImage, granted-result.Produced)
	if result.Produced == 0 {
		return nil, ErrNothingGenerated
	}
	return result, nil
}

func (s *GenerationService) Transcribe(ctx context.Context, accountID string, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", appErrors.NewValidation("audio", "is required")
	}
	if _, err := s.Usage.Reserve(ctx, accountID, tier.ActionVoice, 1); err != nil {
		return "", err
	}
	text, err := s.Generator.Transcribe(ctx, audio, filename)
	if err != nil {
		s.Usage.releaseQuietly(ctx, accountID, tier.ActionVoice, 1)
		return "", fmt.Errorf("%w: %v", ErrNothingGenerated, err)
	}
	return text, nil
}

func (s *GenerationService) AnalyzeImage(ctx context.Context, accountID, imageURL string) (string, error) {
	if imageURL == "" {
		return "", appErrors.NewValidation("imageUrl", "is required")
	}
	if _, err := s.Usage.Reserve(ctx, accountID, tier.ActionAnalysis, 1); err != nil {
		return "", err
	}
	desc, err := s.Generator.AnalyzeImage(ctx, imageURL)
	if err != nil {
		s.Usage.releaseQuietly(ctx, accountID, tier.ActionAnalysis, 1)
		return "", fmt.Errorf("%w: %v", ErrNothingGenerated, err)
	}
	return desc, nil
}
