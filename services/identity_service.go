package services

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"padel-roster-system/models"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/gosimple/unidecode"
	"golang.org/x/text/cases"
	"gorm.io/gorm"
)

// Scorer rates the similarity of two normalized names in [0,1].
// Pluggable so the matching policy can be swapped without touching the
// resolver.
type Scorer interface {
	Score(a, b string) float64
}

// LevenshteinScorer is the default: 1 - editDistance/maxLen.
type LevenshteinScorer struct{}

func (LevenshteinScorer) Score(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(maxLen)
}

// Resolution outcomes.
const (
	ResolutionLinked      = "linked"
	ResolutionQuarantined = "quarantined"
	ResolutionSkipped     = "skipped"
)

// Resolution is the tagged result of resolving one raw roster name.
type Resolution struct {
	Kind           string
	PlayerID       string // set when Kind == linked
	PendingEntryID string // set when Kind == quarantined
	Reason         string // set when Kind == skipped
	CreatedPlayer  bool   // linked via a freshly created player
	CreatedPending bool   // quarantined into a new (not reused) pending row
}

// IdentityService maps raw roster names to players. It may create Player
// and PendingEntry rows; it never touches payment fields.
type IdentityService struct {
	Scorer Scorer

	// AcceptThreshold: minimum score to auto-link. ReviewThreshold:
	// minimum score to surface a candidate at all. DominanceMargin: lead
	// the best candidate needs over the runner-up to auto-link.
	AcceptThreshold float64
	ReviewThreshold float64
	DominanceMargin float64
}

// NewIdentityService builds a resolver with the default scorer and
// thresholds, overridable via MATCH_* env vars.
func NewIdentityService() *IdentityService {
	return &IdentityService{
		Scorer:          LevenshteinScorer{},
		AcceptThreshold: envFloat("MATCH_ACCEPT_THRESHOLD", 0.85),
		ReviewThreshold: envFloat("MATCH_REVIEW_THRESHOLD", 0.60),
		DominanceMargin: envFloat("MATCH_DOMINANCE_MARGIN", 0.10),
	}
}

func envFloat(key string, fallback float64) float64 {
	if raw := os.Getenv(key); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil && f >= 0 {
			return f
		}
	}
	return fallback
}

var nameFolder = cases.Fold()

// NormalizeName canonicalizes a raw player name: transliterate to ASCII,
// case-fold, collapse internal whitespace. "Иван  Петров" and
// "ivan petrov" normalize to the same string.
func NormalizeName(raw string) string {
	folded := nameFolder.String(unidecode.Unidecode(raw))
	return strings.Join(strings.Fields(folded), " ")
}

// Resolve maps one raw name within a tournament to a player or a
// quarantine record. Runs inside the caller's transaction.
func (s *IdentityService) Resolve(tx *gorm.DB, tournament *models.Tournament, rawName string) (Resolution, error) {
	normalized := NormalizeName(rawName)
	if normalized == "" {
		return Resolution{Kind: ResolutionSkipped, Reason: "empty name after normalization"}, nil
	}

	// Fast path: exact match on the canonical normalized name.
	var player models.Player
	err := tx.Where("normalized_name = ?", normalized).First(&player).Error
	if err == nil {
		return Resolution{Kind: ResolutionLinked, PlayerID: player.ID}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Resolution{}, fmt.Errorf("player lookup failed: %w", err)
	}

	// Alias match: a spelling an admin has resolved before.
	var alias models.PlayerAlias
	err = tx.Where("normalized_alias = ?", normalized).First(&alias).Error
	if err == nil {
		return Resolution{Kind: ResolutionLinked, PlayerID: alias.PlayerID}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Resolution{}, fmt.Errorf("alias lookup failed: %w", err)
	}

	candidates, err := s.rankCandidates(tx, tournament, normalized)
	if err != nil {
		return Resolution{}, err
	}

	if len(candidates) == 0 {
		created, err := s.createPlayer(tx, rawName, normalized)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Kind: ResolutionLinked, PlayerID: created.ID, CreatedPlayer: true}, nil
	}

	best := candidates[0]
	dominant := best.Score >= s.AcceptThreshold &&
		(len(candidates) == 1 || best.Score-candidates[1].Score >= s.DominanceMargin)
	if dominant {
		return Resolution{Kind: ResolutionLinked, PlayerID: best.PlayerID}, nil
	}

	pending, createdPending, err := s.quarantine(tx, tournament.ID, rawName, normalized, candidates)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Kind: ResolutionQuarantined, PendingEntryID: pending.ID, CreatedPending: createdPending}, nil
}

// rankCandidates scores players seen at the same location first, then
// globally, and keeps everything above the review threshold, best first.
func (s *IdentityService) rankCandidates(tx *gorm.DB, tournament *models.Tournament, normalized string) ([]models.PendingCandidate, error) {
	var contextPlayers []models.Player
	if tournament.Location != "" {
		err := tx.
			Joins("JOIN entries ON entries.player_id = players.id").
			Joins("JOIN tournaments ON tournaments.id = entries.tournament_id").
			Where("tournaments.location = ?", tournament.Location).
			Distinct("players.*").
			Find(&contextPlayers).Error
		if err != nil {
			return nil, fmt.Errorf("context candidate lookup failed: %w", err)
		}
	}

	ranked := s.scorePlayers(contextPlayers, normalized)
	if len(ranked) > 0 && ranked[0].Score >= s.AcceptThreshold {
		return ranked, nil
	}

	var allPlayers []models.Player
	if err := tx.Find(&allPlayers).Error; err != nil {
		return nil, fmt.Errorf("global candidate lookup failed: %w", err)
	}
	return s.scorePlayers(allPlayers, normalized), nil
}

func (s *IdentityService) scorePlayers(players []models.Player, normalized string) []models.PendingCandidate {
	var ranked []models.PendingCandidate
	seen := make(map[string]bool, len(players))
	for _, p := range players {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		score := s.Scorer.Score(normalized, p.NormalizedName)
		if score >= s.ReviewThreshold {
			ranked = append(ranked, models.PendingCandidate{PlayerID: p.ID, FullName: p.FullName, Score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}

func (s *IdentityService) createPlayer(tx *gorm.DB, rawName, normalized string) (*models.Player, error) {
	player := models.Player{
		ID:             uuid.NewString(),
		FullName:       strings.Join(strings.Fields(rawName), " "),
		NormalizedName: normalized,
	}
	if err := tx.Create(&player).Error; err != nil {
		return nil, fmt.Errorf("failed to create player %q: %w", player.FullName, err)
	}
	return &player, nil
}

// quarantine creates a pending review item, or reuses the open one for
// the same (tournament, normalized name) — the uniqueness invariant that
// keeps re-runs from piling up duplicates.
func (s *IdentityService) quarantine(tx *gorm.DB, tournamentID, rawName, normalized string, candidates []models.PendingCandidate) (*models.PendingEntry, bool, error) {
	var existing models.PendingEntry
	err := tx.Where("tournament_id = ? AND normalized_name = ? AND status IN ?",
		tournamentID, normalized, []string{models.PendingStatusPending, models.PendingStatusSnoozed}).First(&existing).Error
	if err == nil {
		// Refresh the ranked list; the player set may have changed.
		existing.SetCandidates(candidates)
		if err := tx.Model(&existing).Update("candidates_json", existing.CandidatesJSON).Error; err != nil {
			return nil, false, fmt.Errorf("failed to refresh pending entry: %w", err)
		}
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("pending lookup failed: %w", err)
	}

	pending := models.PendingEntry{
		ID:             uuid.NewString(),
		TournamentID:   tournamentID,
		RawName:        strings.TrimSpace(rawName),
		NormalizedName: normalized,
		Status:         models.PendingStatusPending,
	}
	pending.SetCandidates(candidates)
	if err := tx.Create(&pending).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create pending entry: %w", err)
	}
	return &pending, true, nil
}
