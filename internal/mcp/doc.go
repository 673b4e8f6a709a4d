// Package mcp invokes remote tools over the fixed invoke envelope.
//
// A request is POSTed as {"method":"invoke","params":{...}} and the tool
// answers {"status":"success","result":...} or {"status":"error","error":"..."}.
// The [Client] owns the retry policy: transport failures are retried with
// exponential backoff on a substitutable [Clock], while application errors
// and malformed responses are final after one attempt. Every outcome,
// including failure, is returned as a [Result] value rather than an error
// so callers can record it as provenance.
package mcp
