package auth

// Known OAuth scopes used by the competition service.
const (
	ScopeCompetitionsWrite = "competitions:write"
	ScopeCompetitionsRead  = "competitions:read"
)
