package datasync

import (
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/cache"
	"github.com/trezcool/edmm/core/upstream"
)

// Mailboxes and read modes of the messages domain.
const (
	BoxReceived = "received"
	BoxSent     = "sent"

	ModeRecipient = "destinataire"
	ModeSender    = "expediteur"
)

var ErrUnknownDomain = errors.New("unknown domain")

// Domains lists the synchronized domains.
var Domains = []string{
	cache.DomainGrades,
	cache.DomainHomework,
	cache.DomainSchedule,
	cache.DomainVieScolaire,
	cache.DomainMessages,
}

// Query selects the data of one domain. Week only applies to the schedule,
// Box to messages and Year to grades.
type Query struct {
	Domain string
	Week   time.Time
	Box    string
	Year   string
}

// Normalize fills in the defaults of q as of now, and checks its domain.
func (q Query) Normalize(now time.Time) (Query, error) {
	switch q.Domain {
	case cache.DomainSchedule:
		if q.Week.IsZero() {
			q.Week = now
		}
		q.Week = core.WeekStart(q.Week)
	case cache.DomainMessages:
		if q.Box == "" {
			q.Box = BoxReceived
		}
		if q.Box != BoxReceived && q.Box != BoxSent {
			return q, errors.Errorf("unknown mailbox %q", q.Box)
		}
	case cache.DomainGrades, cache.DomainHomework, cache.DomainVieScolaire:
	default:
		return q, errors.Wrap(ErrUnknownDomain, q.Domain)
	}
	return q, nil
}

// SubKey is the cache sub key of a normalized query.
func (q Query) SubKey() string {
	switch q.Domain {
	case cache.DomainSchedule:
		return q.Week.Format(core.DateLayout)
	case cache.DomainMessages:
		return q.Box
	case cache.DomainGrades:
		return q.Year
	}
	return ""
}

// CacheKey is the cache key of q for userID.
func (q Query) CacheKey(userID string) cache.Key {
	return cache.Key{UserID: userID, Domain: q.Domain, SubKey: q.SubKey()}
}

func (q Query) String() string {
	if sub := q.SubKey(); sub != "" {
		return q.Domain + ":" + sub
	}
	return q.Domain
}

type (
	gradesBody struct {
		Year string `json:"anneeScolaire"`
	}

	scheduleBody struct {
		Start    string `json:"dateDebut"`
		End      string `json:"dateFin"`
		WithGaps bool   `json:"avecTrous"`
	}
)

// request builds the upstream request of a normalized query.
func (q Query) request(userID string) upstream.Request {
	get := url.Values{"verbe": {"get"}}
	id := url.PathEscape(userID)

	switch q.Domain {
	case cache.DomainGrades:
		return upstream.Request{
			Path:  fmt.Sprintf("eleves/%s/notes.awp", id),
			Query: get,
			Body:  gradesBody{Year: q.Year},
		}
	case cache.DomainHomework:
		return upstream.Request{Path: fmt.Sprintf("Eleves/%s/cahierdetexte.awp", id), Query: get}
	case cache.DomainSchedule:
		return upstream.Request{
			Path:  fmt.Sprintf("E/%s/emploidutemps.awp", id),
			Query: get,
			Body: scheduleBody{
				Start: q.Week.Format(core.DateLayout),
				End:   q.Week.AddDate(0, 0, 4).Format(core.DateLayout),
			},
		}
	case cache.DomainVieScolaire:
		return upstream.Request{Path: fmt.Sprintf("eleves/%s/viescolaire.awp", id), Query: get}
	}

	return upstream.Request{
		Path: fmt.Sprintf("eleves/%s/messages.awp", id),
		Query: url.Values{
			"verbe":            {"get"},
			"typeRecuperation": {q.Box},
			"orderBy":          {"date"},
			"order":            {"desc"},
			"page":             {"0"},
			"itemsPerPage":     {"100"},
			"getAll":           {"0"},
		},
	}
}

// messageRequest builds the upstream request reading one message.
func messageRequest(userID, messageID, mode string) upstream.Request {
	return upstream.Request{
		Path: fmt.Sprintf("eleves/%s/messages/%s.awp", url.PathEscape(userID), url.PathEscape(messageID)),
		Query: url.Values{
			"verbe": {"get"},
			"mode":  {mode},
		},
	}
}
