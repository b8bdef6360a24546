package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"identityrecon/internal/lock"
	"identityrecon/internal/metrics"
	"identityrecon/internal/models"
	"identityrecon/internal/store"
)

// ErrMissingIdentifier is returned when neither email nor phone number
// survives normalization.
var ErrMissingIdentifier = errors.New("either email or phoneNumber must be provided")

// ErrClusterContention is returned when the primaries of a cluster keep
// changing under concurrent merges.
var ErrClusterContention = errors.New("identity cluster changed concurrently")

// maxResolveAttempts bounds how often one pass re-resolves primaries that a
// concurrent merge changed before they could be locked.
const maxResolveAttempts = 5

// ReconciliationService handles identity reconciliation logic
type ReconciliationService struct {
	tx      store.Tx
	locker  lock.Locker
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	timeout time.Duration
}

// Option configures a ReconciliationService.
type Option func(*ReconciliationService)

func WithLogger(logger *slog.Logger) Option {
	return func(s *ReconciliationService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ReconciliationService) { s.metrics = m }
}

// WithLocker replaces the in-process locker, e.g. with a Redis locker when
// several replicas share one database.
func WithLocker(l lock.Locker) Option {
	return func(s *ReconciliationService) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithTimeout bounds a whole identify call when the caller set no deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *ReconciliationService) { s.timeout = d }
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(tx store.Tx, opts ...Option) *ReconciliationService {
	s := &ReconciliationService{
		tx:     tx,
		locker: lock.NewLocal(),
		logger: slog.New(slog.DiscardHandler),
		tracer: otel.Tracer("identityrecon/internal/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolution carries what a single pass did, for logging and metrics.
type resolution struct {
	response  *models.IdentifyResponse
	matches   int
	created   *models.Contact
	demoted   []int64
	dangling  int
	primaryID int64
}

func (r *resolution) outcome() string {
	switch {
	case len(r.demoted) > 0:
		return metrics.OutcomeMerged
	case r.created != nil && r.created.IsPrimary():
		return metrics.OutcomeCreated
	case r.created != nil:
		return metrics.OutcomeLinked
	default:
		return metrics.OutcomeExisting
	}
}

// Identify resolves the request to its identity cluster, creating or merging
// records as needed, and returns the consolidated view of that cluster.
//
// Requests sharing an email or phone value are serialized through the
// locker, and the store work runs in a single transaction.
func (s *ReconciliationService) Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error) {
	started := time.Now()
	email := normalize(req.Email)
	phone := normalize(req.PhoneNumber)
	if email == nil && phone == nil {
		return nil, ErrMissingIdentifier
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ctx, span := s.tracer.Start(ctx, "ReconciliationService.Identify")
	defer span.End()

	res, err := s.identify(ctx, email, phone)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "identify failed")
		s.metrics.ObserveIdentify(metrics.OutcomeError, started)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("identity.primary_id", res.primaryID),
		attribute.Int("identity.matches", res.matches),
		attribute.Int("identity.demoted", len(res.demoted)),
		attribute.Bool("identity.created", res.created != nil),
		attribute.Int("identity.dangling", res.dangling),
	)
	s.metrics.ObserveIdentify(res.outcome(), started)
	return res.response, nil
}

func (s *ReconciliationService) identify(ctx context.Context, email, phone *string) (*resolution, error) {
	release, err := s.locker.Lock(ctx, lockKeys(email, phone)...)
	if err != nil {
		return nil, fmt.Errorf("failed to lock identity: %w", err)
	}
	defer release()

	var res *resolution
	err = s.tx.RunInTx(ctx, func(st store.Store) error {
		var err error
		res, err = s.resolve(ctx, st, email, phone)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Log only after commit so nothing is reported for a rolled-back pass.
	if len(res.demoted) > 0 {
		s.metrics.AddClustersMerged(len(res.demoted))
		s.logger.InfoContext(ctx, "merged contact clusters",
			"primary_id", res.primaryID, "demoted_ids", res.demoted)
	}
	if res.created != nil {
		s.metrics.IncrementContactsCreated(string(res.created.LinkPrecedence))
		s.logger.InfoContext(ctx, "created contact",
			"contact_id", res.created.ID,
			"link_precedence", string(res.created.LinkPrecedence),
			"primary_id", res.primaryID)
	}
	return res, nil
}

// resolve runs one full pass: match, resolve and lock primaries, merge,
// insert new information, then re-read and project the cluster.
func (s *ReconciliationService) resolve(ctx context.Context, st store.Store, email, phone *string) (*resolution, error) {
	res := &resolution{}
	var primaries []*models.Contact
	var dangling []int64
	for attempt := 1; ; attempt++ {
		matches, err := st.FindByValue(ctx, email, phone)
		if err != nil {
			return nil, fmt.Errorf("failed to find matching contacts: %w", err)
		}
		res.matches = len(matches)

		if len(matches) == 0 {
			created, err := st.Insert(ctx, email, phone, nil, models.LinkPrimary)
			if err != nil {
				return nil, fmt.Errorf("failed to create primary contact: %w", err)
			}
			res.created = created
			res.primaryID = created.ID
			res.response, err = projectCluster([]*models.Contact{created}, created.ID)
			if err != nil {
				return nil, err
			}
			return res, nil
		}

		primaries, dangling, err = resolvePrimaries(ctx, st, matches)
		if err != nil {
			return nil, err
		}
		stable, err := lockPrimaries(ctx, st, primaries)
		if err != nil {
			return nil, err
		}
		if stable {
			break
		}
		if attempt == maxResolveAttempts {
			return nil, ErrClusterContention
		}
		s.logger.DebugContext(ctx, "primaries changed while locking, resolving again", "attempt", attempt)
	}

	res.dangling = len(dangling)
	for _, id := range dangling {
		s.metrics.IncrementDanglingLinks()
		s.logger.WarnContext(ctx, "contact link does not resolve to a primary", "contact_id", id)
	}

	truePrimary := primaries[0]
	res.primaryID = truePrimary.ID

	for _, extra := range primaries[1:] {
		if err := st.Demote(ctx, extra.ID, truePrimary.ID); err != nil {
			return nil, fmt.Errorf("failed to demote contact %d: %w", extra.ID, err)
		}
		res.demoted = append(res.demoted, extra.ID)
	}

	cluster, err := st.GetCluster(ctx, truePrimary.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster: %w", err)
	}

	if hasNewInformation(cluster, email, phone) {
		linkedID := truePrimary.ID
		created, err := st.Insert(ctx, email, phone, &linkedID, models.LinkSecondary)
		if err != nil {
			return nil, fmt.Errorf("failed to create secondary contact: %w", err)
		}
		res.created = created
		cluster, err = st.GetCluster(ctx, truePrimary.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload cluster: %w", err)
		}
	}

	res.response, err = projectCluster(cluster, truePrimary.ID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// resolvePrimaries maps every match to its governing primary, keeps the first
// contact seen per id, and orders the result by created_at then id. The
// first element survives a merge. It also returns the ids of matches whose
// ascent hit a broken link or a cycle.
func resolvePrimaries(ctx context.Context, st store.Store, matches []*models.Contact) ([]*models.Contact, []int64, error) {
	seen := make(map[int64]struct{}, len(matches))
	primaries := make([]*models.Contact, 0, len(matches))
	var dangling []int64
	for _, m := range matches {
		p, broken, err := primaryOf(ctx, st, m)
		if err != nil {
			return nil, nil, err
		}
		if broken {
			dangling = append(dangling, m.ID)
		}
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		primaries = append(primaries, p)
	}
	slices.SortStableFunc(primaries, func(a, b *models.Contact) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return primaries, dangling, nil
}

// lockPrimaries pins the resolved primaries until commit and reports whether
// each still has the precedence and link it was resolved with. It is false
// when a concurrent merge committed between resolving and locking.
func lockPrimaries(ctx context.Context, st store.Store, primaries []*models.Contact) (bool, error) {
	locker, ok := st.(store.RowLocker)
	if !ok {
		return true, nil
	}
	ids := make([]int64, 0, len(primaries))
	for _, p := range primaries {
		ids = append(ids, p.ID)
	}
	locked, err := locker.LockContacts(ctx, ids)
	if err != nil {
		return false, fmt.Errorf("failed to lock primaries: %w", err)
	}
	current := make(map[int64]*models.Contact, len(locked))
	for _, c := range locked {
		current[c.ID] = c
	}
	for _, p := range primaries {
		c, ok := current[p.ID]
		if !ok || c.LinkPrecedence != p.LinkPrecedence || !sameLink(c.LinkedID, p.LinkedID) {
			return false, nil
		}
	}
	return true, nil
}

func sameLink(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// primaryOf follows linked_id upwards until it reaches a primary. When the
// chain breaks on a missing parent or a secondary with no link, the last live
// contact reached stands in as the primary, so every member below the break
// resolves to the same record. A cycle yields the original contact. Both
// cases set dangling.
func primaryOf(ctx context.Context, st store.Store, c *models.Contact) (*models.Contact, bool, error) {
	visited := map[int64]struct{}{c.ID: {}}
	current := c
	for !current.IsPrimary() {
		if current.LinkedID == nil {
			return current, true, nil
		}
		parentID := *current.LinkedID
		if _, loop := visited[parentID]; loop {
			return c, true, nil
		}
		parent, err := st.GetByID(ctx, parentID)
		if errors.Is(err, store.ErrNotFound) {
			return current, true, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to load linked contact %d: %w", parentID, err)
		}
		visited[parent.ID] = struct{}{}
		current = parent
	}
	return current, false, nil
}

// hasNewInformation reports whether the request carries an email or phone
// value not present anywhere in the cluster. Novelty is per field, not per
// pair.
func hasNewInformation(cluster []*models.Contact, email, phone *string) bool {
	existingEmails := make(map[string]bool)
	existingPhones := make(map[string]bool)

	for _, c := range cluster {
		if c.Email != nil {
			existingEmails[*c.Email] = true
		}
		if c.PhoneNumber != nil {
			existingPhones[*c.PhoneNumber] = true
		}
	}

	if email != nil && !existingEmails[*email] {
		return true
	}
	if phone != nil && !existingPhones[*phone] {
		return true
	}
	return false
}

// normalize trims v and treats blank values as absent.
func normalize(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func lockKeys(email, phone *string) []string {
	var keys []string
	if email != nil {
		keys = append(keys, "email:"+*email)
	}
	if phone != nil {
		keys = append(keys, "phone:"+*phone)
	}
	return keys
}
