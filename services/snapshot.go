package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"padel-roster-system/models"
)

// Snapshot is the validated, in-memory form of one roster feed delivery.
// The loader is a pure transform: malformed records are skipped and
// counted, never fatal.
type Snapshot struct {
	SourceLastUpdated  *time.Time
	Tournaments        []SnapshotTournament
	SkippedTournaments int
	SkippedEntries     int
}

// SnapshotTournament is one tournament record with its roster.
type SnapshotTournament struct {
	Title             string
	Location          string
	Organizer         string
	StartsAt          time.Time
	EndsAt            *time.Time
	PriceRub          int
	PriceRaw          string
	Format            string
	SourceLastUpdated *time.Time
	Entries           []SnapshotEntry
}

// SnapshotEntry is one roster slot as reported by the source. Partner is
// the raw name of the other half of a pair payment, when the source
// reports one payment covering both slots.
type SnapshotEntry struct {
	RawName       string
	PaymentStatus string
	AmountRub     int
	PaymentScope  string
	Partner       string
}

// Key identifies the tournament within a snapshot and against the store.
// The feed has no stable ids, so (location, starts_at) is the key.
func (t *SnapshotTournament) Key() string {
	return TournamentKey(t.Location, t.StartsAt)
}

// TournamentKey builds the natural key used to match snapshot tournaments
// to stored rows.
func TournamentKey(location string, startsAt time.Time) string {
	return fmt.Sprintf("%s|%s", strings.TrimSpace(location), startsAt.UTC().Format(time.RFC3339))
}

// Raw feed shapes. The legacy exporter sometimes emits "tournaments" as a
// map keyed by an opaque id and sometimes as a plain list; participants
// are either bare name strings or objects with payment fields.
type rawSnapshotFile struct {
	LastUpdated string          `json:"last_updated"`
	Tournaments json.RawMessage `json:"tournaments"`
}

type rawTournament struct {
	Tournament    rawTournamentInfo `json:"tournament"`
	StartDatetime string            `json:"start_datetime"`
	EndDatetime   string            `json:"end_datetime"`
	LastUpdated   string            `json:"last_updated"`
	Format        string            `json:"format"`
	Participants  []json.RawMessage `json:"participants"`
}

type rawTournamentInfo struct {
	Title     string `json:"title"`
	Location  string `json:"location"`
	Organizer string `json:"organizer"`
	Price     string `json:"price"`
}

type rawParticipant struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	PaymentStatus string `json:"payment_status"`
	AmountRub     int    `json:"amount_rub"`
	PaymentScope  string `json:"payment_scope"`
	Partner       string `json:"partner"`
}

// Datetime layouts observed in the feed, most common first.
var snapshotTimeLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05.999999Z",
}

var priceDigits = regexp.MustCompile(`(\d+)`)

// ParseSnapshot decodes and validates a raw feed payload.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var file rawSnapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid snapshot JSON: %w", err)
	}
	if len(file.Tournaments) == 0 {
		return nil, fmt.Errorf("snapshot has no 'tournaments' key")
	}

	rawTournaments, err := decodeTournamentCollection(file.Tournaments)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{}
	if ts, ok := parseSnapshotTime(file.LastUpdated); ok {
		snap.SourceLastUpdated = &ts
	}

	for _, rt := range rawTournaments {
		st, ok := normalizeTournament(rt, snap)
		if !ok {
			snap.SkippedTournaments++
			continue
		}
		snap.Tournaments = append(snap.Tournaments, st)
	}

	return snap, nil
}

// decodeTournamentCollection accepts both the map and the list form.
func decodeTournamentCollection(raw json.RawMessage) ([]rawTournament, error) {
	var list []rawTournament
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var byKey map[string]rawTournament
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return nil, fmt.Errorf("unexpected shape for 'tournaments': %w", err)
	}

	// Map iteration order is random; sort keys so runs are deterministic.
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list = make([]rawTournament, 0, len(byKey))
	for _, k := range keys {
		list = append(list, byKey[k])
	}
	return list, nil
}


func normalizeTournament(rt rawTournament, snap *Snapshot) (SnapshotTournament, bool) {
	info := rt.Tournament

	startsAt, ok := parseSnapshotTime(rt.StartDatetime)
	if !ok {
		return SnapshotTournament{}, false
	}
	title := strings.TrimSpace(info.Title)
	location := strings.TrimSpace(info.Location)
	if title == "" && location == "" {
		return SnapshotTournament{}, false
	}

	st := SnapshotTournament{
		Title:     title,
		Location:  location,
		Organizer: strings.TrimSpace(info.Organizer),
		StartsAt:  startsAt,
		PriceRub:  parsePrice(info.Price),
		PriceRaw:  strings.TrimSpace(info.Price),
		Format:    detectFormat(rt.Format, info.Price),
	}
	if endsAt, ok := parseSnapshotTime(rt.EndDatetime); ok {
		st.EndsAt = &endsAt
	}
	if ts, ok := parseSnapshotTime(rt.LastUpdated); ok {
		st.SourceLastUpdated = &ts
	} else {
		st.SourceLastUpdated = snap.SourceLastUpdated
	}

	for _, rawP := range rt.Participants {
		entry, ok := normalizeParticipant(rawP)
		if !ok {
			snap.SkippedEntries++
			continue
		}
		st.Entries = append(st.Entries, entry)
	}

	return st, true
}

func normalizeParticipant(raw json.RawMessage) (SnapshotEntry, bool) {
	// Legacy form: a bare name string.
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		name = strings.TrimSpace(name)
		if name == "" {
			return SnapshotEntry{}, false
		}
		return SnapshotEntry{RawName: name, PaymentStatus: models.PaymentPending, PaymentScope: models.ScopeSelf}, true
	}

	var p rawParticipant
	if err := json.Unmarshal(raw, &p); err != nil {
		return SnapshotEntry{}, false
	}
	rawName := strings.TrimSpace(p.Name)
	if rawName == "" {
		rawName = strings.TrimSpace(p.FullName)
	}
	if rawName == "" {
		return SnapshotEntry{}, false
	}

	status := strings.ToLower(strings.TrimSpace(p.PaymentStatus))
	if status != models.PaymentPaid {
		status = models.PaymentPending
	}
	scope := strings.ToLower(strings.TrimSpace(p.PaymentScope))
	if scope != models.ScopePair {
		scope = models.ScopeSelf
	}

	return SnapshotEntry{
		RawName:       rawName,
		PaymentStatus: status,
		AmountRub:     p.AmountRub,
		PaymentScope:  scope,
		Partner:       strings.TrimSpace(p.Partner),
	}, true
}

// parsePrice extracts the first integer from strings like "6000 Р за пару".
func parsePrice(price string) int {
	if price == "" {
		return 0
	}
	m := priceDigits.FindString(strings.ReplaceAll(price, " ", ""))
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// detectFormat prefers the explicit format field; otherwise a per-pair
// price string marks a team-format tournament.
func detectFormat(explicit, price string) string {
	switch strings.ToLower(strings.TrimSpace(explicit)) {
	case models.FormatTeam:
		return models.FormatTeam
	case models.FormatPersonal:
		return models.FormatPersonal
	}
	lower := strings.ToLower(price)
	if strings.Contains(lower, "за пару") || strings.Contains(lower, "per pair") {
		return models.FormatTeam
	}
	return models.FormatPersonal
}

func parseSnapshotTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range snapshotTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
