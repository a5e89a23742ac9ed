package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/model/chat"
)

// DefaultMaxResults is how many documents each retrieval clause may return.
const DefaultMaxResults = 5

// RetrievalTool tells the model which document store to search and which
// documents it may see.
type RetrievalTool struct {
	Datastore  string
	Filter     Filter
	MaxResults int
}

// Clause matches documents carrying both values.
type Clause struct {
	State string
	City  string
}

// String renders the clause in Vertex AI Search filter syntax.
func (c Clause) String() string {
	return fmt.Sprintf(`city: ANY(%q) AND state: ANY(%q)`, c.City, c.State)
}

// Filter is a disjunction of clauses.
type Filter struct {
	Clauses []Clause
}

// Matches reports whether a document with the given metadata passes the
// filter. Comparison ignores case.
func (f Filter) Matches(doc map[string]string) bool {
	state := strings.ToLower(doc["state"])
	city := strings.ToLower(doc["city"])
	for _, c := range f.Clauses {
		if c.State == state && c.City == city {
			return true
		}
	}
	return false
}

// String renders the whole filter, one parenthesised clause per disjunct.
func (f Filter) String() string {
	parts := make([]string, len(f.Clauses))
	for i, c := range f.Clauses {
		parts[i] = "(" + c.String() + ")"
	}
	return strings.Join(parts, " OR ")
}

// BuildRetrievalTool restricts retrieval to documents for the session's city
// plus state-wide documents. It returns nil when no datastore is configured.
func BuildRetrievalTool(datastore, city, state string) *RetrievalTool {
	datastore = strings.TrimSpace(datastore)
	if datastore == "" {
		return nil
	}

	state = strings.ToLower(strings.TrimSpace(state))

	var clauses []Clause
	if chat.HasCity(city) {
		clauses = append(clauses, Clause{State: state, City: strings.ToLower(strings.TrimSpace(city))})
	}
	clauses = append(clauses, Clause{State: state, City: chat.NoCity})

	return &RetrievalTool{
		Datastore:  datastore,
		Filter:     Filter{Clauses: clauses},
		MaxResults: DefaultMaxResults,
	}
}
