// Package authority gates host-only operations. Authority is scoped to the
// meeting a connection joined, whichever room it currently occupies.
package authority

import (
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type Controller struct {
	reg *core.Registry
	// PromoteOnVacancy hands a vacated host slot to the earliest-granted
	// co-host still present.
	PromoteOnVacancy bool
}

func NewController(reg *core.Registry) *Controller {
	return &Controller{reg: reg}
}

// Change describes one authority mutation.
type Change struct {
	Meeting   *core.Meeting
	Target    domain.ConnID
	Authority domain.Authority
}

// Authorize checks that actor is host or co-host of its meeting.
func (c *Controller) Authorize(actor domain.ConnID) (domain.Connection, *core.Meeting, domain.Result) {
	conn, ok := c.reg.Directory().Get(actor)
	if !ok {
		return domain.Connection{}, nil, domain.Dropped(domain.ReasonUnknownConnection)
	}
	m, ok := c.reg.Meeting(conn.MeetingID)
	if !ok || !m.AuthorityOf(actor).Privileged() {
		log.Debug().Str("module", "authority").Str("conn", string(actor)).Msg("unauthorized")
		return conn, nil, domain.Dropped(domain.ReasonUnauthorized)
	}
	return conn, m, domain.Delivered
}

// Target resolves a privileged operation's target, which must share the
// actor's meeting.
func (c *Controller) Target(actor, target domain.ConnID) (domain.Connection, *core.Meeting, domain.Result) {
	actorConn, m, res := c.Authorize(actor)
	if res.Dropped() {
		return domain.Connection{}, nil, res
	}
	t, ok := c.reg.Directory().Get(target)
	if !ok || t.MeetingID != actorConn.MeetingID {
		return domain.Connection{}, nil, domain.Dropped(domain.ReasonUnknownTarget)
	}
	if target == actor {
		return domain.Connection{}, nil, domain.Dropped(domain.ReasonProtocolViolation)
	}
	return t, m, domain.Delivered
}

func (c *Controller) Grant(actor, target domain.ConnID) (Change, domain.Result) {
	t, m, res := c.Target(actor, target)
	if res.Dropped() {
		return Change{}, res
	}
	if !m.AddCohost(t.ID) {
		return Change{}, domain.Dropped(domain.ReasonNoop)
	}
	c.reg.Directory().SetAuthority(t.ID, domain.AuthorityCohost)
	log.Info().Str("module", "authority").Str("meeting", string(m.ID)).Str("by", string(actor)).
		Str("conn", string(t.ID)).Msg("cohost granted")
	return Change{Meeting: m, Target: t.ID, Authority: domain.AuthorityCohost}, domain.Delivered
}

// Revoke drops a co-host. The host itself cannot be revoked.
func (c *Controller) Revoke(actor, target domain.ConnID) (Change, domain.Result) {
	t, m, res := c.Target(actor, target)
	if res.Dropped() {
		return Change{}, res
	}
	if t.ID == m.HostID {
		return Change{}, domain.Dropped(domain.ReasonProtocolViolation)
	}
	if !m.RemoveCohost(t.ID) {
		return Change{}, domain.Dropped(domain.ReasonNoop)
	}
	c.reg.Directory().SetAuthority(t.ID, domain.AuthorityNone)
	log.Info().Str("module", "authority").Str("meeting", string(m.ID)).Str("by", string(actor)).
		Str("conn", string(t.ID)).Msg("cohost revoked")
	return Change{Meeting: m, Target: t.ID, Authority: domain.AuthorityNone}, domain.Delivered
}

// Bannable checks a ban request. The host cannot be banned.
func (c *Controller) Bannable(actor, target domain.ConnID) (domain.Connection, *core.Meeting, domain.Result) {
	t, m, res := c.Target(actor, target)
	if res.Dropped() {
		return domain.Connection{}, nil, res
	}
	if t.ID == m.HostID {
		return domain.Connection{}, nil, domain.Dropped(domain.ReasonUnauthorized)
	}
	return t, m, domain.Delivered
}

// FillVacancy promotes the earliest-granted co-host when the meeting has
// no host and promotion is enabled.
func (c *Controller) FillVacancy(m *core.Meeting) (Change, bool) {
	if !c.PromoteOnVacancy || m == nil || m.HostID != "" {
		return Change{}, false
	}
	for _, id := range m.Cohosts() {
		if !c.reg.Directory().Has(id) {
			m.RemoveCohost(id)
			continue
		}
		m.Promote(id)
		c.reg.Directory().SetAuthority(id, domain.AuthorityHost)
		log.Info().Str("module", "authority").Str("meeting", string(m.ID)).Str("conn", string(id)).Msg("cohost promoted to host")
		return Change{Meeting: m, Target: id, Authority: domain.AuthorityHost}, true
	}
	return Change{}, false
}
