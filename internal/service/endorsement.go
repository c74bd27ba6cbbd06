package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/wimi-app/wimi/internal/model"
	"github.com/wimi-app/wimi/internal/repository"
	"github.com/wimi-app/wimi/internal/storage"
	"github.com/wimi-app/wimi/internal/validation"
)

var ErrNoEvidence = errors.New("endorsement has no evidence")

// Evidence is an optional verification image attached to a decision.
type Evidence struct {
	Body io.Reader
	Ext  string // file extension including the dot
}

// SelectEndorsers picks n distinct candidates uniformly at random, never
// the owner. The same rng state and candidate order always give the same
// selection.
func SelectEndorsers(rng *rand.Rand, candidates []string, ownerID string, n int) ([]string, error) {
	pool := lo.Uniq(lo.Without(lo.Compact(candidates), ownerID))
	if len(pool) < n {
		return nil, &SelectionError{Available: len(pool), Required: n}
	}

	for i := range n {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n], nil
}

type EndorsementService struct {
	postRepo        repository.PostRepository
	endorsementRepo repository.EndorsementRepository
	userRepo        repository.UserRepository
	storage         storage.Storage
	dispatcher      Dispatcher
	now             func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewEndorsementService(
	postRepo repository.PostRepository,
	endorsementRepo repository.EndorsementRepository,
	userRepo repository.UserRepository,
	storage storage.Storage,
	dispatcher Dispatcher,
	rng *rand.Rand,
) *EndorsementService {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &EndorsementService{
		postRepo:        postRepo,
		endorsementRepo: endorsementRepo,
		userRepo:        userRepo,
		storage:         storage,
		dispatcher:      dispatcher,
		now:             time.Now,
		rng:             rng,
	}
}

// RequestEndorsement asks three of the owner's mutual connections to
// endorse the post. Requesting again returns the existing rows.
func (s *EndorsementService) RequestEndorsement(ctx context.Context, ownerID, postID string) ([]*model.Endorsement, error) {
	post, err := s.postRepo.ByID(postID)
	if err != nil {
		return nil, fmt.Errorf("failed to load post: %w", err)
	}
	if post.UserID != ownerID {
		return nil, &InputError{Field: "post_id", Reason: "only the post owner can request endorsement"}
	}

	existing, err := s.endorsementRepo.ByPost(postID)
	if err != nil {
		return nil, fmt.Errorf("failed to load endorsements: %w", err)
	}
	if len(existing) > 0 {
		return existing, nil
	}

	candidates, err := s.userRepo.MutualConnections(ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mutual connections: %w", err)
	}

	s.mu.Lock()
	selected, err := SelectEndorsers(s.rng, candidates, ownerID, model.EndorsementQuorum)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	endorsements := make([]*model.Endorsement, len(selected))
	for i, endorserID := range selected {
		endorsements[i] = &model.Endorsement{
			ID:         uuid.New().String(),
			PostID:     postID,
			EndorserID: endorserID,
			Status:     model.EndorsementPending,
			CreatedAt:  now,
		}
	}

	err = s.endorsementRepo.CreateRequest(postID, model.EndorsementQuorum, endorsements)
	if errors.Is(err, repository.ErrEndorsementRequested) {
		// A concurrent request won; its rows are the request.
		return s.endorsementRepo.ByPost(postID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create endorsement request: %w", err)
	}

	slog.Info("endorsement requested", "post_id", postID, "owner_id", ownerID, "endorsers", selected)

	for _, e := range endorsements {
		s.dispatcher.Dispatch(ctx, Event{
			Type:        model.NotificationEndorsementRequested,
			UserID:      e.EndorserID,
			TriggeredBy: ownerID,
			PostID:      postID,
			Message:     "A friend asked you to endorse their post.",
		})
	}
	return endorsements, nil
}

// SubmitDecision moves the endorser's pending row to decision. Repeating the
// stored decision is a no-op; contradicting it is a ConflictError.
func (s *EndorsementService) SubmitDecision(ctx context.Context, endorserID, endorsementID, decision string, evidence *Evidence) (*model.Endorsement, error) {
	if decision != model.EndorsementEndorsed && decision != model.EndorsementDeclined {
		return nil, &InputError{Field: "decision", Reason: fmt.Sprintf("must be %s or %s", model.EndorsementEndorsed, model.EndorsementDeclined)}
	}

	endorsement, err := s.endorsementRepo.ByID(endorsementID)
	if err != nil {
		return nil, fmt.Errorf("failed to load endorsement: %w", err)
	}
	if endorsement.EndorserID != endorserID {
		return nil, &InputError{Field: "endorser_id", Reason: "not selected for this endorsement"}
	}

	if !endorsement.IsPending() {
		return s.settled(ctx, endorsement, decision)
	}

	var selfieRef *string
	if evidence != nil {
		body, err := validation.ValidateImage(evidence.Body, evidence.Ext, validation.SelfieConstraints)
		if err != nil {
			return nil, &InputError{Field: "evidence", Reason: err.Error()}
		}

		path := storage.SelfiePath(strings.ToLower(evidence.Ext))
		err = s.storage.Save(ctx, path, body)
		if errors.Is(err, validation.ErrTooLarge) {
			s.discardEvidence(ctx, path)
			return nil, &InputError{Field: "evidence", Reason: err.Error()}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to store evidence: %w", err)
		}
		selfieRef = &path
	}

	ok, err := s.endorsementRepo.Transition(endorsementID, decision, selfieRef, s.now().UTC())
	if err != nil || !ok {
		if selfieRef != nil {
			s.discardEvidence(ctx, *selfieRef)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update endorsement: %w", err)
	}

	endorsement, err = s.endorsementRepo.ByID(endorsementID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload endorsement: %w", err)
	}
	if !ok {
		// Someone else settled the row between our read and write.
		return s.settled(ctx, endorsement, decision)
	}

	slog.Info("endorsement decided", "endorsement_id", endorsementID, "post_id", endorsement.PostID, "status", decision)

	if decision == model.EndorsementEndorsed {
		s.completeIfQuorum(ctx, endorsement.PostID, endorserID)
	}
	return endorsement, nil
}

// settled handles a decision against a row that is already terminal.
func (s *EndorsementService) settled(ctx context.Context, endorsement *model.Endorsement, decision string) (*model.Endorsement, error) {
	if endorsement.Status != decision {
		return nil, &ConflictError{
			Entity: "endorsement",
			ID:     endorsement.ID,
			Reason: fmt.Sprintf("already %s", endorsement.Status),
		}
	}
	if decision == model.EndorsementEndorsed {
		// A retry may follow a crash between transition and flip.
		s.completeIfQuorum(ctx, endorsement.PostID, endorsement.EndorserID)
	}
	return endorsement, nil
}

// completeIfQuorum flips the post and signals completion. The flip is a
// single conditional update, so exactly one caller ever sees flipped.
func (s *EndorsementService) completeIfQuorum(ctx context.Context, postID, endorserID string) {
	flipped, err := s.postRepo.FlipEndorsed(postID, s.now().UTC())
	if err != nil {
		slog.Error("failed to flip post endorsement", "error", err, "post_id", postID)
		return
	}
	if !flipped {
		return
	}

	post, err := s.postRepo.ByID(postID)
	if err != nil {
		slog.Error("failed to load endorsed post", "error", err, "post_id", postID)
		return
	}

	slog.Info("post endorsed", "post_id", postID, "owner_id", post.UserID)
	s.dispatcher.Dispatch(ctx, Event{
		Type:        model.NotificationPostEndorsed,
		UserID:      post.UserID,
		TriggeredBy: endorserID,
		PostID:      postID,
		Message:     "Your post reached its endorsement quorum.",
	})
}

func (s *EndorsementService) discardEvidence(ctx context.Context, path string) {
	err := s.storage.Delete(ctx, path)
	if err != nil {
		slog.Error("failed to delete evidence during cleanup", "error", err, "path", path)
	}
}

func (s *EndorsementService) PostEndorsements(postID string) ([]*model.Endorsement, error) {
	return s.endorsementRepo.ByPost(postID)
}

func (s *EndorsementService) PendingEndorsements(endorserID string) ([]*model.Endorsement, error) {
	return s.endorsementRepo.PendingForEndorser(endorserID)
}

// EvidenceURL returns a temporary link to the endorsement's selfie.
func (s *EndorsementService) EvidenceURL(ctx context.Context, endorsementID string) (string, error) {
	endorsement, err := s.endorsementRepo.ByID(endorsementID)
	if err != nil {
		return "", fmt.Errorf("failed to load endorsement: %w", err)
	}
	if endorsement.SelfieRef == nil {
		return "", ErrNoEvidence
	}
	return s.storage.PresignedURL(ctx, *endorsement.SelfieRef)
}
