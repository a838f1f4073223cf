package research

import (
	"context"
	"log"
)

// SynthesisEngine produces final perspectives from the consolidated clusters
// in one batched collaborator call. A failed batch yields an empty result,
// which the controller treats as "try again next iteration" rather than as a
// concluded analysis.
type SynthesisEngine struct {
	oracle SynthesisOracle
	logger *log.Logger
}

func NewSynthesisEngine(oracle SynthesisOracle, logger *log.Logger) *SynthesisEngine {
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNTH] ", log.LstdFlags)
	}
	return &SynthesisEngine{oracle: oracle, logger: logger}
}

// Synthesize runs the batched synthesis call. With no consolidated
// perspectives it is a no-op.
func (s *SynthesisEngine) Synthesize(ctx context.Context, consolidated []ConsolidatedPerspective) []FinalPerspective {
	if len(consolidated) == 0 {
		s.logger.Printf("no consolidated perspectives, skipping synthesis")
		return nil
	}
	s.logger.Printf("synthesizing %d consolidated perspectives in one batch", len(consolidated))

	finals, err := s.oracle.Synthesize(ctx, consolidated)
	if err != nil {
		s.logger.Printf("batch synthesis failed: %v (no final perspectives this round)", err)
		return nil
	}
	s.logger.Printf("synthesized %d final perspectives", len(finals))
	return finals
}
