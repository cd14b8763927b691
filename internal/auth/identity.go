package auth

// IdentityKind tags how a reporter is identified.
type IdentityKind int

const (
	// KindNone carries no identity; rate limiting does not apply.
	KindNone IdentityKind = iota
	// KindAuthenticated is a signed-in user id.
	KindAuthenticated
	// KindAnonymous is an anonymized client hash.
	KindAnonymous
)

// Identity is Authenticated(uid) | Anonymous(hash) | None.
type Identity struct {
	kind  IdentityKind
	value string
}

func Authenticated(uid string) Identity { return Identity{kind: KindAuthenticated, value: uid} }

func Anonymous(hash string) Identity { return Identity{kind: KindAnonymous, value: hash} }

func NoIdentity() Identity { return Identity{} }

// IdentityFrom prefers the user id, then the client hash.
func IdentityFrom(uid, clientHash string) Identity {
	switch {
	case uid != "":
		return Authenticated(uid)
	case clientHash != "":
		return Anonymous(clientHash)
	default:
		return NoIdentity()
	}
}

func (k IdentityKind) String() string {
	switch k {
	case KindAuthenticated:
		return "authenticated"
	case KindAnonymous:
		return "anonymous"
	default:
		return "none"
	}
}

func (i Identity) Kind() IdentityKind { return i.kind }

// Key returns the identity part of a marker id ("uid_x" or "anon_x").
// ok is false for KindNone.
func (i Identity) Key() (key string, ok bool) {
	switch i.kind {
	case KindAuthenticated:
		return "uid_" + i.value, true
	case KindAnonymous:
		return "anon_" + i.value, true
	default:
		return "", false
	}
}
