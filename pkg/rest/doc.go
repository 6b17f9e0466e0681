// Package rest maps declared resources onto relational tables and serves them
// over HTTP.
//
// A resource is declared with a Config and compiled against a schema catalog
// into an immutable Descriptor. The Descriptor owns the resource's explicit
// routes, the primary-key route derived from the table's first key column,
// and the field functions applied to writes (encoders, validators, generators)
// and reads (decoders).
//
// Requests below a resource's mount point are dispatched in two stages:
// explicit routes in declaration order, then the primary-key route. A path
// matching a route that rejects the method is a 405, not a 404. The standard
// verbs are served by a Verbs implementation, DefaultVerbs unless overridden.
//
// Collection reads take their filters and controls from the query string:
//
//	Parameter                 | Description
//	--------------------------|---------------------------------------------
//	?name=alice               | equality
//	?age__gte=18              | lookups: lt, lte, gt, gte, contains, startswith, endswith, in, range
//	?name__not=alice          | negation
//	?group.name=admins        | filter through a relationship
//	?name|fullname=al|Al      | OR-group
//	?__include_fields=id,name | restrict the output fields
//	?__exclude_fields=age     | drop output fields
//	?__order_by=-age,name     | ordering, '-' for descending
//	?__begin=20&__limit=10    | paging (default limit 50)
//	?__format=yaml            | YAML envelope
//
// Filters that do not resolve to a column are dropped, unless the request
// carries "Prefer: handling=strict". "Prefer: return=minimal" suppresses the
// body of POST, PUT and DELETE responses.
//
// Example usage:
//
//	users, err := rest.NewBuilder(rest.Config{Name: "User", Table: "users", Invisible: []string{"password"}}).
//		Route("/login", login, http.MethodPost).
//		Build(catalog)
//	if err != nil {
//		log.Fatal(err)
//	}
//	srv := rest.NewServer(store, rest.NewRegistry(catalog))
//	if err := srv.Mount("/users", users); err != nil {
//		log.Fatal(err)
//	}
//	log.Fatal(srv.Start(":8080"))
package rest
