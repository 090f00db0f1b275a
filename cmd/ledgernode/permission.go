package main

// allowAllSigners is the default PermissionVerifier: identity and
// permissioning policy are an external collaborator per the data model's
// scope, so a standalone node accepts any signer until a real policy is
// wired in front of it.
type allowAllSigners struct{}

func (allowAllSigners) Authorized(string) bool { return true }
