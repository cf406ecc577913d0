package fetcher

import (
	"strings"

	"github.com/ikmak/mongo-fetcher/errcode"
)

// Namespace identifies a collection as "<db>.<collection>".
type Namespace struct {
	DB         string
	Collection string
}

// ParseNamespace parses a full namespace string into a Namespace.
//
// The namespace string must contain at least one ".", the first of which
// separates the database name from the collection name. The split parts are
// then validated by NewNamespace.
func ParseNamespace(fullName string) (Namespace, error) {
	i := strings.Index(fullName, ".")
	if i == -1 {
		return Namespace{}, errcode.Newf(errcode.BadValue, "namespace %q must contain a '.'", fullName)
	}
	return NewNamespace(fullName[:i], fullName[i+1:])
}

// NewNamespace creates a Namespace from the given database and collection
// names. Neither can be empty, and the database name may not contain a "."
// or " " character.
func NewNamespace(db, collection string) (Namespace, error) {
	if db == "" {
		return Namespace{}, errcode.New(errcode.BadValue, "database name cannot be empty")
	}
	if strings.ContainsAny(db, ". ") {
		return Namespace{}, errcode.Newf(errcode.BadValue, "database name %q cannot contain '.' or ' '", db)
	}
	if collection == "" {
		return Namespace{}, errcode.New(errcode.BadValue, "collection name cannot be empty")
	}
	return Namespace{DB: db, Collection: collection}, nil
}

// FullName returns the full namespace string, which is the database name
// and the collection name joined with a ".".
func (ns Namespace) FullName() string {
	return ns.DB + "." + ns.Collection
}

func (ns Namespace) String() string {
	return ns.FullName()
}
