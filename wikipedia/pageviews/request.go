package pageviews

import (
	"regexp"

	"github.com/pkg/errors"

	"wikistats/wikipedia"
)

var ErrInvalidRequest = errors.New("invalid pageviews request")

var (
	projectValues     = []string{"en.wikipedia.org", "cs.wikipedia.org", "sk.wikipedia.org"}
	accessValues      = []string{"all-access", "desktop", "mobile-app", "mobile-web"}
	agentValues       = []string{"all-agents", "user", "spider", "automated"}
	granularityValues = []string{"daily", "monthly"}

	timestampRegexp = regexp.MustCompile(`^\d{8}(\d{2})?$`)
)

// Request selects the series summed for every article. Start and End are
// YYYYMMDD or YYYYMMDDHH and both ends are included.
type Request struct {
	Project     string
	Access      string
	Agent       string
	Granularity string
	Start       string
	End         string
}

func (r Request) Validate() error {
	if !oneOf(r.Project, projectValues) {
		return errors.Wrapf(ErrInvalidRequest, "project %q", r.Project)
	}
	if !oneOf(r.Access, accessValues) {
		return errors.Wrapf(ErrInvalidRequest, "access %q", r.Access)
	}
	if !oneOf(r.Agent, agentValues) {
		return errors.Wrapf(ErrInvalidRequest, "agent %q", r.Agent)
	}
	if !oneOf(r.Granularity, granularityValues) {
		return errors.Wrapf(ErrInvalidRequest, "granularity %q", r.Granularity)
	}
	if !timestampRegexp.MatchString(r.Start) || !timestampRegexp.MatchString(r.End) {
		return errors.Wrapf(ErrInvalidRequest, "time range %q - %q", r.Start, r.End)
	}
	if hourly(r.Start) > hourly(r.End) {
		return errors.Wrapf(ErrInvalidRequest, "start %s after end %s", r.Start, r.End)
	}
	if r.Start[:8] < wikipedia.LOWEST_TIMESTAMP {
		return errors.Wrapf(ErrInvalidRequest, "no data before %s", wikipedia.LOWEST_TIMESTAMP)
	}
	return nil
}

// hourly pads a day timestamp to YYYYMMDDHH so that both forms compare.
func hourly(ts string) string {
	if len(ts) == 8 {
		return ts + "00"
	}
	return ts
}

func oneOf(v string, values []string) bool {
	for _, x := range values {
		if v == x {
			return true
		}
	}
	return false
}
