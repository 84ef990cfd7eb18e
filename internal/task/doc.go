// Package task implements the HTTP(S) protocol tasks that run on top of the
// transport package.
//
// On the server side every accepted connection gets a fresh serverTask. It
// reads requests in a keep-alive loop, resolves the caller's session from the
// FORESTNET_SESSION cookie, and answers according to the endpoint mode:
//
//	NORMAL   static files below the root directory, seed hook when bound
//	DYNAMIC  as NORMAL, with HTML files rendered through html/template
//	REST     the bound rest.ForestREST handler
//	SOAP     the bound soap.Dispatcher, with the WSDL published at ?wsdl
//
// Sessions are persisted before the response is written, so a client that
// reuses its cookie always sees the writes of its previous request.
//
// On the client side Client sends requests over one reusable connection,
// keeps the session cookie the server hands out and streams downloads to
// disk.
package task
