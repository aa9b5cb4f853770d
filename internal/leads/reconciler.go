package leads

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/scoutline/leadharvest/internal/model"
)

// Store is the slice of persistence the reconciler needs.
type Store interface {
	UpsertLead(ctx context.Context, lead *model.Lead) (created bool, err error)
}

// Outcome is the verdict the pipeline reached for one enriched profile.
// Qualified is nil when the qualifier could not produce a verdict; the lead
// is still saved so the contributor and their seed attribution survive, and
// a later run re-attempts the verdict.
type Outcome struct {
	Profile   model.Profile
	Qualified *bool
	Reason    string
	Seeds     []string
}

// Reconciler folds pipeline outcomes into the durable lead set, keyed by
// (username, owner). An existing lead gets its profile refreshed and its
// seed set unioned with the new attribution.
type Reconciler struct {
	store Store
}

func NewReconciler(store Store) *Reconciler {
	return &Reconciler{store: store}
}

// Save upserts the outcome as a lead. Created reports whether the lead is
// new; the caller uses it to split the created/updated counters.
func (r *Reconciler) Save(ctx context.Context, ownerID, jobID string, o Outcome) (bool, error) {
	if o.Profile.Username == "" {
		return false, eris.New("leads: outcome has no username")
	}
	lead := &model.Lead{
		OwnerID:           ownerID,
		Profile:           o.Profile,
		Qualified:         o.Qualified,
		UnqualifiedReason: o.Reason,
		Seeds:             o.Seeds,
		JobID:             jobID,
	}
	created, err := r.store.UpsertLead(ctx, lead)
	if err != nil {
		return false, eris.Wrapf(err, "leads: save %s", o.Profile.Username)
	}
	return created, nil
}
