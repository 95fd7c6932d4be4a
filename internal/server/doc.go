// Package server hosts the Fiber HTTP service and the site registry. Every
// configured site becomes one middleware in config order; a site that does
// not recognise a path calls Next so the following site can try it, and a
// request nobody claims ends in a JSON 404 rendered by the shared error
// handler. Diagnostics endpoints live under /-/ and bypass the sites.
package server
