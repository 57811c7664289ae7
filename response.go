package metacache

// Status classifies a cache lookup result. Every lookup lands on exactly one
// of the three states, whatever shape the backend reported it in.
type Status int

const (
	// StatusHit means a live value was found.
	StatusHit Status = iota
	// StatusMiss means the key was absent, expired, or stored as nil.
	StatusMiss
	// StatusError means the operation itself failed.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusHit:
		return "hit"
	case StatusMiss:
		return "miss"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Response is the normalized result of a cache lookup. Value is set only for
// StatusHit; Err only for StatusError.
type Response struct {
	Status Status
	Value  any
	Err    error
}

// Hit builds a found response carrying value.
func Hit(value any) Response {
	return Response{Status: StatusHit, Value: value}
}

// Miss builds an absent response.
func Miss() Response {
	return Response{Status: StatusMiss}
}

// Failure builds an error response carrying err.
func Failure(err error) Response {
	return Response{Status: StatusError, Err: err}
}

// IsHit reports whether the lookup found a live value.
func (r Response) IsHit() bool { return r.Status == StatusHit }

// IsMiss reports whether the key was absent.
func (r Response) IsMiss() bool { return r.Status == StatusMiss }

// IsError reports whether the lookup failed.
func (r Response) IsError() bool { return r.Status == StatusError }

// normalize maps a backend's raw (value, found, err) result onto the
// response contract. A found nil value is a miss: callers cannot tell
// stored-nil apart from absent, and nothing in this domain needs them to.
func normalize(value any, found bool, err error) Response {
	switch {
	case err != nil:
		return Failure(err)
	case !found, value == nil:
		return Miss()
	default:
		return Hit(value)
	}
}
