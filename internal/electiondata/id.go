package electiondata

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultNamespace seeds deterministic IDs when no namespace is configured.
// Changing it re-keys every imported row.
var DefaultNamespace = uuid.MustParse("5d8e1f0a-3b7c-4e29-a6d4-9c2b7f18e305")

func v5(ns uuid.UUID, name string) uuid.UUID {
	return uuid.NewSHA1(ns, []byte(name))
}

func canon(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.TrimSpace(s)), " "))
}

func RegionID(ns uuid.UUID, code string) uuid.UUID {
	return v5(ns, "region:"+canon(code))
}

func CandidateID(ns uuid.UUID, year int, position, name, party string) uuid.UUID {
	return v5(ns, fmt.Sprintf("candidate:%d:%s:%s:%s", year, canon(position), canon(name), canon(party)))
}

func ResultID(ns uuid.UUID, regionCode string, year int, position, name, party string) uuid.UUID {
	return v5(ns, fmt.Sprintf("result:%s:%d:%s:%s:%s", canon(regionCode), year, canon(position), canon(name), canon(party)))
}

func EthnicityID(ns uuid.UUID, regionCode, group string, year int) uuid.UUID {
	return v5(ns, fmt.Sprintf("ethnicity:%s:%s:%d", canon(regionCode), canon(group), year))
}
