package courier

import "github.com/xraph/courier/wire"

// Hooks are the callback slots the delivery pipe invokes on its owner.
// Nil slots are skipped. For any one job, at most one terminal success
// (OnGotExperience) or one terminal error (OnInternalError) fires;
// non-fatal warnings, such as the push channel failing over to polling
// while recovery continues, may additionally reach OnInternalError.
type Hooks struct {
	// OnExperienceCreated fires once the creation call succeeds and the
	// server has assigned an experience id.
	OnExperienceCreated func(exp *wire.Experience)

	// OnGotExperience fires with the terminal success record. Rejected
	// experiences never reach it.
	OnGotExperience func(exp *wire.Experience)

	// OnStatusUpdate fires for each render progress message.
	OnStatusUpdate func(msg string)

	// OnInternalError fires for terminal errors and fallback warnings.
	OnInternalError func(err error)
}

func (h Hooks) experienceCreated(exp *wire.Experience) {
	if h.OnExperienceCreated != nil {
		h.OnExperienceCreated(exp)
	}
}

func (h Hooks) gotExperience(exp *wire.Experience) {
	if h.OnGotExperience != nil {
		h.OnGotExperience(exp)
	}
}

func (h Hooks) statusUpdate(msg string) {
	if h.OnStatusUpdate != nil {
		h.OnStatusUpdate(msg)
	}
}

func (h Hooks) internalError(err error) {
	if h.OnInternalError != nil {
		h.OnInternalError(err)
	}
}
