package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// Metadata keys the default LDP-to-CDP mapper understands, in lookup
// order. Callers are encouraged to use the recommended key; the
// fallbacks absorb payloads from older clients.
var (
	deltaMetadataKeys     = []string{"delta", "cdp_delta", "ldp_delta"}
	mechanismMetadataKeys = []string{"mechanism", "mechanism_id", "mechanism_name"}
	paramsMetadataKeys    = []string{"mechanism_params", "parameters", "mechanism_parameters"}
)

// LocalPrivacyUsage records one per-user local-DP spend. An empty
// UserID attributes the spend to the anonymous pool.
type LocalPrivacyUsage struct {
	UserID    string                 `json:"user_id,omitempty"`
	Epsilon   float64                `json:"epsilon"`
	RoundID   *int                   `json:"round_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
}

// UserKey returns the accounting key for the usage record.
func (u LocalPrivacyUsage) UserKey() string {
	if u.UserID == "" {
		return constants.AnonymousUserKey
	}
	return u.UserID
}

// LDPBudgetSummary aggregates per-user epsilon usage.
type LDPBudgetSummary struct {
	TotalEpsilon   float64            `json:"total_epsilon"`
	PerUserEpsilon map[string]float64 `json:"per_user_epsilon"`
	MaxUserEpsilon float64            `json:"max_user_epsilon"`
	NEvents        int                `json:"n_events"`
}

// LDPToCDPEvent is the payload a mapper produces when forwarding local
// usage into central accounting.
type LDPToCDPEvent struct {
	Epsilon     float64
	Delta       float64
	Description string
	Metadata    map[string]interface{}
	Mechanism   string
	Parameters  map[string]interface{}
}

// LDPToCDPMapper converts a local usage record into the event forwarded
// to the attached CDP ledger.
type LDPToCDPMapper func(usage LocalPrivacyUsage) (LDPToCDPEvent, error)

// DefaultLDPToCDPMapper maps local usage onto a CDP event by reading
// delta, mechanism, and parameter hints from the usage metadata.
func DefaultLDPToCDPMapper(usage LocalPrivacyUsage) (LDPToCDPEvent, error) {
	metadata := make(map[string]interface{}, len(usage.Metadata))
	for k, v := range usage.Metadata {
		metadata[k] = v
	}

	delta := 0.0
	if raw, ok := firstMetadataValue(metadata, deltaMetadataKeys); ok {
		value, err := coerceFloat(raw)
		if err != nil {
			return LDPToCDPEvent{}, errors.NewValidationError(errors.CodeInvalidDelta,
				"delta metadata must be numeric").WithCause(err)
		}
		if value < 0 {
			return LDPToCDPEvent{}, errors.NewValidationError(errors.CodeInvalidDelta,
				fmt.Sprintf("delta must be non-negative, got %v", value))
		}
		delta = value
	}

	mechanism := ""
	if raw, ok := firstMetadataValue(metadata, mechanismMetadataKeys); ok {
		if s, isString := raw.(string); isString {
			mechanism = s
		}
	}

	var parameters map[string]interface{}
	if raw, ok := firstMetadataValue(metadata, paramsMetadataKeys); ok {
		switch v := raw.(type) {
		case map[string]interface{}:
			parameters = make(map[string]interface{}, len(v))
			for k, value := range v {
				parameters[k] = value
			}
		case map[string]float64:
			parameters = make(map[string]interface{}, len(v))
			for k, value := range v {
				parameters[k] = value
			}
		default:
			parameters = map[string]interface{}{"value": raw}
		}
	}

	description := "LDP-local-event"
	if raw, ok := metadata["description"].(string); ok && raw != "" {
		description = raw
	}

	return LDPToCDPEvent{
		Epsilon:     usage.Epsilon,
		Delta:       delta,
		Description: description,
		Metadata:    metadata,
		Mechanism:   mechanism,
		Parameters:  parameters,
	}, nil
}

// normalizeCDPEvent injects the ldp_context block into the forwarded
// event's metadata so central audit logs keep the local provenance.
func normalizeCDPEvent(usage LocalPrivacyUsage, event LDPToCDPEvent) LDPToCDPEvent {
	metadata := make(map[string]interface{}, len(event.Metadata)+1)
	for k, v := range event.Metadata {
		metadata[k] = v
	}
	context, ok := metadata["ldp_context"].(map[string]interface{})
	if !ok {
		context = map[string]interface{}{}
	}
	setDefault(context, "user_id", usage.UserKey())
	if usage.RoundID != nil {
		setDefault(context, "round_id", *usage.RoundID)
	}
	setDefault(context, "source", "ldp")
	if event.Mechanism != "" {
		setDefault(context, "mechanism", event.Mechanism)
	}
	if len(event.Parameters) > 0 {
		setDefault(context, "mechanism_params", event.Parameters)
	}
	setDefault(context, "delta", event.Delta)
	metadata["ldp_context"] = context

	if event.Description == "" {
		event.Description = "LDP-local-event"
	}
	event.Metadata = metadata
	return event
}

// LDPConfig configures the per-user local-DP accountant.
type LDPConfig struct {
	// PerUserEpsilonLimit caps any single user's cumulative epsilon.
	// Nil disables the check.
	PerUserEpsilonLimit *float64
	// GlobalEpsilonLimit caps the summed epsilon across all users.
	// Nil disables the check.
	GlobalEpsilonLimit *float64
	// CDPLedger, when set, receives a mapped event for every accepted
	// usage so cross-model audit logs stay unified.
	CDPLedger *Accountant
	// Mapper overrides the default LDP-to-CDP mapping.
	Mapper LDPToCDPMapper
}

// LDPAccountant tracks per-user epsilon for local-DP workflows,
// enforcing optional per-user and global ceilings, and optionally
// bridging each usage into a central ledger.
type LDPAccountant struct {
	mu           sync.RWMutex
	perUserLimit *float64
	globalLimit  *float64
	cdp          *Accountant
	mapper       LDPToCDPMapper
	usages       []LocalPrivacyUsage
	perUserSpent map[string]float64
	totalSpent   float64
}

// NewLDPAccountant creates a local-DP accountant.
func NewLDPAccountant(cfg LDPConfig) (*LDPAccountant, error) {
	if cfg.PerUserEpsilonLimit != nil && *cfg.PerUserEpsilonLimit < 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig,
			"per-user epsilon limit must be non-negative")
	}
	if cfg.GlobalEpsilonLimit != nil && *cfg.GlobalEpsilonLimit < 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig,
			"global epsilon limit must be non-negative")
	}
	mapper := cfg.Mapper
	if mapper == nil {
		mapper = DefaultLDPToCDPMapper
	}
	return &LDPAccountant{
		perUserLimit: cfg.PerUserEpsilonLimit,
		globalLimit:  cfg.GlobalEpsilonLimit,
		cdp:          cfg.CDPLedger,
		mapper:       mapper,
		perUserSpent: make(map[string]float64),
	}, nil
}

// AddUsage validates the record, checks the per-user and global
// ceilings, forwards to the attached CDP ledger when configured, and
// then records the usage. A rejection at any stage leaves the local
// state untouched.
func (l *LDPAccountant) AddUsage(usage LocalPrivacyUsage) error {
	if usage.Epsilon < 0 {
		return errors.NewValidationError(errors.CodeInvalidEpsilon,
			fmt.Sprintf("epsilon must be non-negative, got %v", usage.Epsilon))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	userKey := usage.UserKey()
	nextUserSpent := l.perUserSpent[userKey] + usage.Epsilon
	nextTotalSpent := l.totalSpent + usage.Epsilon

	if l.perUserLimit != nil && nextUserSpent > *l.perUserLimit {
		return errors.NewPerUserBudgetExceededError(userKey, usage.Epsilon, *l.perUserLimit)
	}
	if l.globalLimit != nil && nextTotalSpent > *l.globalLimit {
		return errors.NewBudgetExceededError(usage.Epsilon, 0, *l.globalLimit-l.totalSpent, 0)
	}

	if err := l.forwardToCDP(usage); err != nil {
		return err
	}

	if usage.Timestamp.IsZero() {
		usage.Timestamp = time.Now().UTC()
	}
	l.usages = append(l.usages, usage)
	l.perUserSpent[userKey] = nextUserSpent
	l.totalSpent = nextTotalSpent
	return nil
}

// AddUsages bulk-registers usage records, stopping at the first
// rejection.
func (l *LDPAccountant) AddUsages(usages []LocalPrivacyUsage) error {
	for _, usage := range usages {
		if err := l.AddUsage(usage); err != nil {
			return err
		}
	}
	return nil
}

func (l *LDPAccountant) forwardToCDP(usage LocalPrivacyUsage) error {
	if l.cdp == nil {
		return nil
	}
	mapped, err := l.mapper(usage)
	if err != nil {
		return err
	}
	event := normalizeCDPEvent(usage, mapped)
	if event.Epsilon < 0 || event.Delta < 0 {
		return errors.NewValidationError(errors.CodeInvalidInput,
			"mapped epsilon and delta must be non-negative")
	}
	_, err = l.cdp.AddEvent(EventRequest{
		Epsilon:     event.Epsilon,
		Delta:       event.Delta,
		Description: event.Description,
		Metadata:    event.Metadata,
		Model:       models.PrivacyModelLDP,
		Mechanism:   event.Mechanism,
	})
	return err
}

// UserSpent returns the cumulative epsilon attributed to a user.
func (l *LDPAccountant) UserSpent(userID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if userID == "" {
		userID = constants.AnonymousUserKey
	}
	return l.perUserSpent[userID]
}

// TotalSpent returns the summed epsilon across all users.
func (l *LDPAccountant) TotalSpent() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSpent
}

// Usages returns a copy of the recorded usage history.
func (l *LDPAccountant) Usages() []LocalPrivacyUsage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LocalPrivacyUsage, len(l.usages))
	copy(out, l.usages)
	return out
}

// Summarize aggregates the usage history into a budget summary.
func (l *LDPAccountant) Summarize() LDPBudgetSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return SummarizeUsages(l.usages)
}

// Reset clears the usage history and spending counters.
func (l *LDPAccountant) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usages = nil
	l.perUserSpent = make(map[string]float64)
	l.totalSpent = 0
}

// PerUserEpsilon aggregates usage records into per-user totals.
func PerUserEpsilon(usages []LocalPrivacyUsage) map[string]float64 {
	perUser := make(map[string]float64)
	for _, usage := range usages {
		perUser[usage.UserKey()] += usage.Epsilon
	}
	return perUser
}

// SummarizeUsages builds the budget summary for a usage list.
func SummarizeUsages(usages []LocalPrivacyUsage) LDPBudgetSummary {
	perUser := PerUserEpsilon(usages)
	var total, maxUser float64
	for _, epsilon := range perUser {
		total += epsilon
		if epsilon > maxUser {
			maxUser = epsilon
		}
	}
	return LDPBudgetSummary{
		TotalEpsilon:   total,
		PerUserEpsilon: perUser,
		MaxUserEpsilon: maxUser,
		NEvents:        len(usages),
	}
}

func firstMetadataValue(metadata map[string]interface{}, keys []string) (interface{}, bool) {
	for _, key := range keys {
		if value, ok := metadata[key]; ok {
			return value, true
		}
	}
	return nil, false
}

func setDefault(m map[string]interface{}, key string, value interface{}) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

func coerceFloat(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("value is not numeric: %T", raw))
	}
}
