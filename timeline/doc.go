// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package timeline merges system notices and user chat into one ordered, capped
timeline. Outbound chat is appended optimistically before transmission and is
never rolled back on send failure; repeated system notices are deduplicated by
(type, text) within a short window to absorb reconnect churn.
*/
package timeline
