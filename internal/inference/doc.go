// Package inference wraps a local Ollama-compatible text-generation endpoint
// behind a typed client. It is the trust boundary between deterministic code
// and a non-deterministic text generator: its job is to make a free-text
// service behave like a typed RPC.
//
// Client.Generate posts one prompt (bounded timeout, no automatic retry) and
// returns the raw model text. Client.Infer additionally extracts the JSON
// object the text is expected to contain (Decode: fence stripping, outermost
// brace scan, one repair pass) and unmarshals it into the caller's schema.
// Client.Available is the pre-flight check used to short-circuit a whole
// batch when the endpoint or model is absent.
//
// Every failure is a *inference.Error carrying a Reason — UNAVAILABLE,
// TIMEOUT, or MALFORMED_RESPONSE — never an unstructured exception.
package inference
