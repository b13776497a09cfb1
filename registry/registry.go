// Resolver admission. The allow-list is fixed at startup from
// configuration; identities are whatever the transport authenticates
// (addresses, API keys), the registry only answers membership.
package registry

type StaticRegistry struct {
	allowed map[string]struct{}
}

func NewStaticRegistry(identities []string) *StaticRegistry {
	allowed := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		allowed[id] = struct{}{}
	}
	return &StaticRegistry{allowed: allowed}
}

func (r *StaticRegistry) IsAuthorizedResolver(identity string) bool {
	_, ok := r.allowed[identity]
	return ok
}
