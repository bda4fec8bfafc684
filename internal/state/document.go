package state

import "slices"

// DefaultLogRetention is the number of audit entries kept when no limit is configured.
const DefaultLogRetention = 100

// Document is the single persisted consistency domain: consent, policy,
// cooldowns and the bounded audit log.
type Document struct {
	Users     map[UserID]UserConsent  `json:"users"`
	Groups    map[GroupID]GroupPolicy `json:"groups"`
	Cooldowns map[UserID]Cooldown     `json:"cooldowns"`
	RoastLog  []RoastEvent            `json:"roastLog"`
}

// NewDocument returns an empty document with all collections allocated.
func NewDocument() *Document {
	return &Document{
		Users:     make(map[UserID]UserConsent),
		Groups:    make(map[GroupID]GroupPolicy),
		Cooldowns: make(map[UserID]Cooldown),
		RoastLog:  []RoastEvent{},
	}
}

// Normalize allocates any collection left nil by decoding.
func (d *Document) Normalize() {
	if d.Users == nil {
		d.Users = make(map[UserID]UserConsent)
	}

	if d.Groups == nil {
		d.Groups = make(map[GroupID]GroupPolicy)
	}

	if d.Cooldowns == nil {
		d.Cooldowns = make(map[UserID]Cooldown)
	}

	if d.RoastLog == nil {
		d.RoastLog = []RoastEvent{}
	}
}

// Clone returns a deep copy that shares no memory with d.
func (d *Document) Clone() *Document {
	clone := NewDocument()

	for id, consent := range d.Users {
		clone.Users[id] = consent
	}

	for id, policy := range d.Groups {
		clone.Groups[id] = policy
	}

	for id, cooldown := range d.Cooldowns {
		clone.Cooldowns[id] = cooldown
	}

	clone.RoastLog = append(clone.RoastLog, d.RoastLog...)

	return clone
}

// IsConsenting reports whether the user has opted in. Unknown users have not.
func (d *Document) IsConsenting(user UserID) bool {
	return d.Users[user].AllowRoasts
}

// SetConsent upserts the user's opt-in flag.
func (d *Document) SetConsent(user UserID, allow bool) {
	consent := d.Users[user]
	consent.AllowRoasts = allow
	d.Users[user] = consent
}

// GroupPolicy returns the group's policy with defaults applied.
func (d *Document) GroupPolicy(group GroupID) GroupPolicy {
	policy := d.Groups[group]
	if !policy.DefaultVoiceMode.Valid() {
		policy.DefaultVoiceMode = DefaultVoiceMode
	}

	return policy
}

// SetSafeMode upserts the group's profanity-filter flag.
func (d *Document) SetSafeMode(group GroupID, enabled bool) {
	policy := d.Groups[group]
	policy.SafeMode = enabled
	d.Groups[group] = policy
}

// SetNuclearOK upserts the group's nuclear-tier allowance.
func (d *Document) SetNuclearOK(group GroupID, allowed bool) {
	policy := d.Groups[group]
	policy.NuclearOK = allowed
	d.Groups[group] = policy
}

// SetDefaultVoiceMode upserts the group's default voice mode.
func (d *Document) SetDefaultVoiceMode(group GroupID, mode VoiceMode) {
	policy := d.Groups[group]
	policy.DefaultVoiceMode = mode
	d.Groups[group] = policy
}

// LastRoastTime returns the issuer's last successful roast in unix
// milliseconds, or zero when none was recorded.
func (d *Document) LastRoastTime(user UserID) int64 {
	return d.Cooldowns[user].LastRoastTime
}

// RecordCooldown stores the roast time, never moving it backwards.
func (d *Document) RecordCooldown(user UserID, timestamp int64) {
	if timestamp < d.Cooldowns[user].LastRoastTime {
		return
	}

	d.Cooldowns[user] = Cooldown{LastRoastTime: timestamp}
}

// AppendEvent appends the event and keeps only the newest limit entries.
// A non-positive limit falls back to DefaultLogRetention.
func (d *Document) AppendEvent(event RoastEvent, limit int) {
	if limit <= 0 {
		limit = DefaultLogRetention
	}

	d.RoastLog = append(d.RoastLog, event)

	if overflow := len(d.RoastLog) - limit; overflow > 0 {
		d.RoastLog = slices.Clone(d.RoastLog[overflow:])
	}
}

// RecentEvents returns up to n of the group's events, newest first.
func (d *Document) RecentEvents(group GroupID, n int) []RoastEvent {
	recent := make([]RoastEvent, 0, n)

	for i := len(d.RoastLog) - 1; i >= 0 && len(recent) < n; i-- {
		if d.RoastLog[i].GroupID == group {
			recent = append(recent, d.RoastLog[i])
		}
	}

	return recent
}
