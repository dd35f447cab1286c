/*
oidcrp is a relying-party engine for the OAuth2 Authorization Code (+PKCE)
and OpenID Connect protocols.  It builds authorization and end-session
requests, validates responses, exchanges authorization codes and refresh
tokens for token sets, maintains a persisted authenticated User record, and
keeps that record fresh via silent renewal and remote session polling.

Primary types provided by the package

* Settings: immutable configuration for a relying party (authority, client
id/secret, redirect targets, protocol options and the storage handles for
correlation state and the user record).

* State / SigninState: the persisted, time-stamped, single-use record which
uniquely represents one in-flight signin or signout flow, including the PKCE
verifier/challenge pair.  A stored state is consumed at most once per flow.

* User: the externally visible authenticated session (id_token, access_token,
refresh_token, profile claims and expiry), persisted by the UserManager.

* MetadataService: discovers and caches the provider's OIDC discovery
document, with an optional pre-seeded override and a separately cached
signing-key set.

* TokenClient: performs the authorization-code, resource-owner-credentials
and refresh-token grant exchanges, plus token revocation.

* ResponseValidator: orchestrates state matching, code exchange, id_token
claim extraction and claims enrichment into one validated outcome.

* UserManager: composes everything into signin/signout/refresh/query-session
operations, owns the persisted User record, the event registry, the silent
renewal loop and the optional session monitor.

Navigation (how a redirect, popup or hidden frame actually reaches the
provider and reports back a callback URL) is a collaborator supplied by the
caller via the Navigator interface; this package never touches a UI.
*/
package oidcrp
