// Package submit runs the submission loop: pick a ticket kind, claim content
// for it, register it with the gateway and record the returned identifiers.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"

	"github.com/zulandar/netmaker/internal/config"
	"github.com/zulandar/netmaker/internal/gateway"
	"github.com/zulandar/netmaker/internal/models"
	"github.com/zulandar/netmaker/internal/schedule"
	"github.com/zulandar/netmaker/internal/ticket"
	"gorm.io/gorm"
)

var (
	// ErrNoResults is returned when the gateway accepted a request but
	// reported no result entries. Nothing is recorded.
	ErrNoResults = errors.New("submit: gateway returned no results")
	// ErrCollectionOpen is returned when a collection is already registered
	// or in flight, so no new one is started.
	ErrCollectionOpen = errors.New("submit: collection already registered")
)

// Opts holds parameters for creating a Submitter.
type Opts struct {
	DB      *gorm.DB
	Gateway gateway.Client
	Config  config.SubmitConfig
	Rand    *rand.Rand   // nil seeds from the clock
	Logger  *slog.Logger // nil uses slog.Default()
}

// Submitter performs submission iterations. It is not safe for concurrent
// use; each loop owns one.
type Submitter struct {
	db    *gorm.DB
	gw    gateway.Client
	cfg   config.SubmitConfig
	kinds []models.Kind
	rng   *rand.Rand
	log   *slog.Logger
}

// New creates a Submitter for the configured kinds.
func New(opts Opts) (*Submitter, error) {
	if opts.DB == nil || opts.Gateway == nil {
		return nil, fmt.Errorf("submit: db and gateway are required")
	}
	if len(opts.Config.Kinds) == 0 {
		return nil, fmt.Errorf("submit: no ticket kinds configured")
	}
	kinds := make([]models.Kind, 0, len(opts.Config.Kinds))
	for _, s := range opts.Config.Kinds {
		k, err := models.ParseKind(s)
		if err != nil {
			return nil, fmt.Errorf("submit: %w", err)
		}
		kinds = append(kinds, k)
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		db:    opts.DB,
		gw:    opts.Gateway,
		cfg:   opts.Config,
		kinds: kinds,
		rng:   rng,
		log:   logger.With("loop", "submit"),
	}, nil
}

// Run performs one iteration per schedule tick until ctx is cancelled.
// Iteration errors are logged and never end the loop.
func (s *Submitter) Run(ctx context.Context, sched schedule.Schedule) {
	s.log.Info("starting", "schedule", sched.String(), "kinds", s.kinds)
	schedule.Every(ctx, sched, func(ctx context.Context) {
		s.RunOnce(ctx)
	})
	s.log.Info("stopped")
}

// RunOnce picks a kind uniformly at random and submits one ticket for it.
func (s *Submitter) RunOnce(ctx context.Context) (*models.Ticket, error) {
	kind := s.kinds[s.rng.Intn(len(s.kinds))]
	t, err := s.Submit(ctx, kind)
	switch {
	case err == nil:
	case errors.Is(err, ticket.ErrNoContent):
		s.log.Info("no content to process, waiting for next iteration", "kind", kind)
	case errors.Is(err, ErrCollectionOpen):
		s.log.Info("collection already registered, skipping", "kind", kind)
	case errors.Is(err, ErrNoResults):
		s.log.Info("gateway returned no results, waiting for next iteration", "kind", kind)
	default:
		s.log.Error("submission failed", "kind", kind, "err", err)
	}
	return t, err
}

// Submit registers one ticket of kind. The gateway call uses ctx; the
// local write does not, so an accepted request is still recorded during
// shutdown.
func (s *Submitter) Submit(ctx context.Context, kind models.Kind) (*models.Ticket, error) {
	var (
		req       gateway.SubmitRequest
		opts      map[string]interface{}
		contentID *uint
	)
	if kind == models.KindCollection {
		open, err := ticket.HasOpenCollection(s.db)
		if err != nil {
			return nil, fmt.Errorf("submit: %w", err)
		}
		if open {
			return nil, ErrCollectionOpen
		}
		req, opts = s.collectionRequest()
	} else {
		item, err := ticket.FindUnclaimedContent(s.db, kind)
		if err != nil {
			return nil, err
		}
		req, opts, err = s.contentRequest(kind, item)
		if err != nil {
			return nil, err
		}
		contentID = &item.ID
	}

	out, err := s.gw.Submit(ctx, kind, req)
	if err != nil {
		return nil, fmt.Errorf("submit: %s: %w", kind, err)
	}
	if out == nil || len(out.Results) == 0 {
		return nil, ErrNoResults
	}
	res := out.Results[0]

	wdb := s.db.WithContext(context.WithoutCancel(ctx))
	t, err := ticket.Create(wdb, ticket.CreateOpts{
		Kind:             kind,
		ContentID:        contentID,
		Status:           gateway.NormalizeStatus(res.ResultStatus),
		RemoteStatus:     res.ResultStatus,
		RequestID:        out.RequestID,
		RequestStatus:    out.RequestStatus,
		ResultID:         res.ResultID,
		RegistrationTxID: res.RegistrationTxID,
		ActivationTxID:   res.ActivationTxID,
		Options:          opts,
	})
	if err != nil {
		// The gateway holds a request we have no record of. The content
		// stays unclaimed and will be submitted again later.
		s.log.Error("orphaned remote request",
			"kind", kind, "request_id", out.RequestID, "result_id", res.ResultID, "err", err)
		return nil, fmt.Errorf("submit: record %s ticket: %w", kind, err)
	}

	s.log.Info("ticket registration started",
		"kind", kind, "ticket", t.ID, "request_id", out.RequestID,
		"request_status", out.RequestStatus, "result_id", res.ResultID)
	return t, nil
}

// nftDetails is the metadata document sent with NFT registrations.
type nftDetails struct {
	Description  string  `json:"description"`
	Name         string  `json:"name"`
	CreatorName  string  `json:"creator_name"`
	Keywords     string  `json:"keywords"`
	SeriesName   string  `json:"series_name"`
	IssuedCopies int     `json:"issued_copies"`
	Green        bool    `json:"green"`
	Royalty      float64 `json:"royalty"`
}

func (s *Submitter) contentRequest(kind models.Kind, item *models.ContentItem) (gateway.SubmitRequest, map[string]interface{}, error) {
	req := gateway.SubmitRequest{Files: []string{item.FilePath}}
	opts := map[string]interface{}{}

	switch kind {
	case models.KindCascade:
		req.MakePubliclyAccessible = s.rng.Intn(2) == 1
		opts[ticket.OptPubliclyAccessible] = req.MakePubliclyAccessible

	case models.KindSense:
		act, group, err := s.linkage(kind)
		if err != nil {
			return req, nil, err
		}
		req.CollectionActTxID, req.OpenAPIGroupID = act, group
		opts[ticket.OptCollectionActTxID] = act
		opts[ticket.OptOpenAPIGroupID] = group

	case models.KindNFT:
		act, group, err := s.linkage(kind)
		if err != nil {
			return req, nil, err
		}
		name := item.DisplayName
		if name == "" {
			name = filepath.Base(item.FilePath)
		}
		details := nftDetails{
			Description:  item.Description,
			Name:         name,
			CreatorName:  item.CreatorName,
			Keywords:     item.Keywords,
			SeriesName:   item.SeriesName,
			IssuedCopies: IssuedCopies(s.rng),
			Green:        s.rng.Intn(2) == 1,
			Royalty:      Royalty(s.rng),
		}
		payload, err := json.Marshal(details)
		if err != nil {
			return req, nil, fmt.Errorf("submit: encode nft details: %w", err)
		}
		req.NFTDetails = payload
		req.MakePubliclyAccessible = s.rng.Intn(2) == 1
		req.CollectionActTxID, req.OpenAPIGroupID = act, group

		opts[ticket.OptIssuedCopies] = details.IssuedCopies
		opts[ticket.OptRoyalty] = details.Royalty
		opts[ticket.OptGreen] = details.Green
		opts[ticket.OptPubliclyAccessible] = req.MakePubliclyAccessible
		opts[ticket.OptCollectionActTxID] = act
		opts[ticket.OptOpenAPIGroupID] = group

	default:
		return req, nil, fmt.Errorf("submit: kind %s does not consume content", kind)
	}
	return req, opts, nil
}

// linkage returns the collection activation tx id and group id to attach to
// a sense or nft request. Both are empty unless linking is enabled.
func (s *Submitter) linkage(kind models.Kind) (string, string, error) {
	if !s.cfg.LinkCollection {
		return "", "", nil
	}
	col, err := ticket.LatestCollection(s.db, string(kind))
	if err != nil {
		return "", "", fmt.Errorf("submit: %w", err)
	}
	if col == nil {
		return "", s.cfg.OpenAPIGroupID, nil
	}
	return col.ActivationTxID, s.cfg.OpenAPIGroupID, nil
}

func (s *Submitter) collectionRequest() (gateway.SubmitRequest, map[string]interface{}) {
	c := s.cfg.Collection
	contributors := c.AuthorizedContributors
	if contributors == nil {
		contributors = []string{}
	}
	col := &gateway.CollectionRequest{
		ItemType:                     c.Type,
		CollectionName:               c.Name,
		MaxCollectionEntries:         c.MaxEntries,
		CollectionItemCopyCount:      c.ItemCopyCount,
		AuthorizedContributors:       contributors,
		MaxPermittedOpenNSFWScore:    c.MaxNSFWScore,
		MinSimilarityScoreFirstEntry: c.MinSimilarityScore,
		NoOfDaysToFinalize:           c.FinalizeDays,
		Royalty:                      c.Royalty,
		Green:                        c.Green,
	}
	opts := map[string]interface{}{
		ticket.OptCollectionType: c.Type,
		ticket.OptName:           c.Name,
		ticket.OptMaxEntries:     c.MaxEntries,
		ticket.OptItemCopyCount:  c.ItemCopyCount,
		ticket.OptContributors:   contributors,
		ticket.OptMaxNSFWScore:   c.MaxNSFWScore,
		ticket.OptMinSimilarity:  c.MinSimilarityScore,
		ticket.OptFinalizeDays:   c.FinalizeDays,
		ticket.OptRoyalty:        c.Royalty,
		ticket.OptGreen:          c.Green,
	}
	return gateway.SubmitRequest{Collection: col}, opts
}

// IssuedCopies draws a copy count in [1, 20] biased toward small values.
func IssuedCopies(r *rand.Rand) int {
	return issuedCopies(r.Float64())
}

// issuedCopies maps u in [0, 1) to floor(1 + 19u²).
func issuedCopies(u float64) int {
	n := int(math.Floor(1 + (ticket.MaxIssuedCopies-ticket.MinIssuedCopies)*u*u))
	if n > ticket.MaxIssuedCopies {
		n = ticket.MaxIssuedCopies
	}
	return n
}

// Royalty draws a royalty uniformly from [0.1, 10.0).
func Royalty(r *rand.Rand) float64 {
	return ticket.MinRoyalty + r.Float64()*(ticket.MaxRoyalty-ticket.MinRoyalty)
}
