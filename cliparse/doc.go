// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line and environment configuration for the
watchlobby daemon. CLI flags win over environment variables; a .env file in
the working directory is loaded first when present.
*/
package cliparse
