package gateway

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	DefaultAccountID = "default"
	UserServer       = "s.whatsapp.net"
	GroupServer      = "g.us"
	BroadcastServer  = "broadcast"
	HiddenUserServer = "lid"

	minPhoneDigits = 7
	maxPhoneDigits = 15
)

var accountIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// addressUsers lists the servers a message may be addressed to, with the
// shape of the user part each accepts. User addresses may carry an agent
// and a device suffix.
var addressUsers = map[string]*regexp.Regexp{
	UserServer:       regexp.MustCompile(`^[0-9]+(\.[0-9]+)?(:[0-9]+)?$`),
	HiddenUserServer: regexp.MustCompile(`^[0-9]+(\.[0-9]+)?(:[0-9]+)?$`),
	GroupServer:      regexp.MustCompile(`^[0-9]+(-[0-9]+)?$`),
	BroadcastServer:  regexp.MustCompile(`^[A-Za-z0-9]+$`),
}

// NormalizePhoneNumber strips every non-digit and checks the remaining
// length, so "+1 (234) 567-8901" becomes "12345678901".
func NormalizePhoneNumber(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", ErrInvalidPhoneNumber
	}
	return digits, nil
}

// NormalizeAccountID defaults an empty id and rejects ids that cannot be
// used as a directory name.
func NormalizeAccountID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultAccountID, nil
	}
	if !accountIDPattern.MatchString(id) {
		return "", invalidArgument("phoneId %q must match [A-Za-z0-9_-]{1,64}", id)
	}
	return id, nil
}

// NormalizeAddress turns a bare phone number into a user address and passes
// already qualified user, group and broadcast addresses through unchanged.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if strings.Contains(addr, "@") {
		user, server, _ := strings.Cut(addr, "@")
		pattern, ok := addressUsers[server]
		if !ok || !pattern.MatchString(user) {
			return "", invalidArgument("invalid destination address %q", addr)
		}
		return addr, nil
	}
	digits, err := NormalizePhoneNumber(addr)
	if err != nil {
		return "", err
	}
	return digits + "@" + UserServer, nil
}

// NormalizeGroupAddress qualifies a bare group id with the group server.
func NormalizeGroupAddress(group string) (string, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return "", invalidArgument("groupId is required")
	}
	if strings.Contains(group, "@") {
		return NormalizeAddress(group)
	}
	return group + "@" + GroupServer, nil
}

// ValidateURL accepts absolute http(s) URLs only.
func ValidateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return invalidArgument("invalid URL %q", raw)
	}
	return nil
}

var privacyValues = map[string]bool{
	"all":               true,
	"contacts":          true,
	"contact_blacklist": true,
	"none":              true,
	"match_last_seen":   true,
	"known":             true,
}

// Normalize fills unset values with "all" and rejects unknown values.
func (p PrivacySettings) Normalize() (PrivacySettings, error) {
	fields := []*string{&p.ReadReceipts, &p.Profile, &p.Status, &p.Online, &p.LastSeen, &p.GroupAdd}
	for _, f := range fields {
		if *f == "" {
			*f = "all"
		}
		if !privacyValues[*f] {
			return p, invalidArgument("unknown privacy value %q", *f)
		}
	}
	return p, nil
}
