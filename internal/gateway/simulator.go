package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/zulandar/netmaker/internal/config"
	"github.com/zulandar/netmaker/internal/models"
)

// Simulator is an in-process gateway for dry runs. Each registration stays
// pending for a fixed number of polls and then resolves to success or
// failure, decided at submission time.
type Simulator struct {
	mu      sync.Mutex
	rng     *rand.Rand
	cfg     config.SimulatorConfig
	results map[string]*simResult
}

type simResult struct {
	kind    models.Kind
	polls   int
	outcome string
}

// NewSimulator creates a simulator drawing outcomes from rng.
func NewSimulator(c config.SimulatorConfig, rng *rand.Rand) *Simulator {
	return &Simulator{
		rng:     rng,
		cfg:     c,
		results: make(map[string]*simResult),
	}
}

// Submit records a new pending registration.
func (s *Simulator) Submit(ctx context.Context, kind models.Kind, req SubmitRequest) (*RequestResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if kind == models.KindCollection && req.Collection == nil {
		return nil, fmt.Errorf("gateway: submit collection: missing collection details")
	}
	if kind != models.KindCollection && len(req.Files) == 0 {
		return nil, fmt.Errorf("gateway: submit %s: no files to upload", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	outcome := models.StatusFailure
	if s.rng.Float64() < s.cfg.SuccessRatio {
		outcome = models.StatusSuccess
	}
	resultID := uuid.NewString()
	s.results[resultID] = &simResult{kind: kind, outcome: outcome}

	return &RequestResult{
		RequestID:     uuid.NewString(),
		RequestStatus: "new",
		Results: []ResultRegistration{{
			ResultID:     resultID,
			ResultStatus: models.StatusPending,
		}},
	}, nil
}

// GetResult advances the registration by one poll and reports its state.
func (s *Simulator) GetResult(ctx context.Context, kind models.Kind, resultID string) (*ResultRegistration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[resultID]
	if !ok || r.kind != kind {
		return nil, ErrNoResult
	}
	r.polls++

	out := &ResultRegistration{ResultID: resultID, ResultStatus: models.StatusPending}
	if r.polls < s.cfg.PollsToResolve {
		return out, nil
	}
	out.ResultStatus = r.outcome
	if r.outcome == models.StatusSuccess {
		out.RegistrationTxID = txID(resultID, "reg")
		out.ActivationTxID = txID(resultID, "act")
	}
	return out, nil
}

// Close is a no-op.
func (s *Simulator) Close() error { return nil }

// txID derives a stable 64-hex-digit transaction id.
func txID(resultID, salt string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(salt+":"+resultID))
	return strings.Repeat(strings.ReplaceAll(id.String(), "-", ""), 2)
}
