// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Wire command vocabulary. The string form exists only at the serialization
// edge; everything past ParseCommand dispatches on CommandKind.
const (
	WireJoin             = "LOBBY_JOIN"
	WireReady            = "LOBBY_READY"
	WireUnready          = "LOBBY_UNREADY"
	WireVote             = "LOBBY_VOTE:"
	WireUnvote           = "LOBBY_UNVOTE:"
	WireKick             = "LOBBY_KICK:"
	WireStartCountdown   = "LOBBY_START_COUNTDOWN"
	WirePreparePlayback  = "LOBBY_PREPARE_PLAYBACK"
	WireReadyForPlayback = "LOBBY_READY_FOR_PLAYBACK"
	WireResolving        = "LOBBY_RESOLVING"
	WirePlaybackStarted  = "LOBBY_PLAYBACK_STARTED"
	WireReturn           = "LOBBY_RETURN"

	wirePrefix = "LOBBY_"
)

// CommandKind identifies a decoded lobby command.
type CommandKind int

const (
	CmdNone CommandKind = iota // not a command, treat as chat
	CmdJoin
	CmdReady
	CmdUnready
	CmdVote
	CmdUnvote
	CmdKick
	CmdStartCountdown
	CmdPreparePlayback
	CmdReadyForPlayback
	CmdResolving
	CmdPlaybackStarted
	CmdReturn
	CmdUnknown // unrecognized LOBBY_* payload, logged and dropped
)

// Command is a decoded lobby command.
type Command struct {
	Kind     CommandKind
	ItemID   string // vote/unvote target
	TargetID string // kick target
	Stream   *StreamDescriptor // inline prepare-playback metadata, may be nil
	Raw      string
}

// ParseCommand decodes a chat payload into a Command. A payload that does not
// carry the lobby prefix is plain chat (CmdNone).
func ParseCommand(text string) Command {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, wirePrefix) {
		return Command{Kind: CmdNone, Raw: text}
	}

	switch {
	case trimmed == WireJoin:
		return Command{Kind: CmdJoin, Raw: text}
	case trimmed == WireReady:
		return Command{Kind: CmdReady, Raw: text}
	case trimmed == WireUnready:
		return Command{Kind: CmdUnready, Raw: text}
	case strings.HasPrefix(trimmed, WireVote):
		return Command{Kind: CmdVote, ItemID: strings.TrimSpace(trimmed[len(WireVote):]), Raw: text}
	case strings.HasPrefix(trimmed, WireUnvote):
		return Command{Kind: CmdUnvote, ItemID: strings.TrimSpace(trimmed[len(WireUnvote):]), Raw: text}
	case strings.HasPrefix(trimmed, WireKick):
		return Command{Kind: CmdKick, TargetID: strings.TrimSpace(trimmed[len(WireKick):]), Raw: text}
	case trimmed == WireStartCountdown:
		return Command{Kind: CmdStartCountdown, Raw: text}
	case strings.HasPrefix(trimmed, WirePreparePlayback):
		return Command{Kind: CmdPreparePlayback, Stream: parsePrepareMeta(trimmed), Raw: text}
	case trimmed == WireReadyForPlayback:
		return Command{Kind: CmdReadyForPlayback, Raw: text}
	case trimmed == WireResolving:
		return Command{Kind: CmdResolving, Raw: text}
	case trimmed == WirePlaybackStarted:
		return Command{Kind: CmdPlaybackStarted, Raw: text}
	case trimmed == WireReturn:
		return Command{Kind: CmdReturn, Raw: text}
	}

	return Command{Kind: CmdUnknown, Raw: text}
}

// parsePrepareMeta decodes the optional inline metadata of a prepare-playback
// command: LOBBY_PREPARE_PLAYBACK|<hash>|<fileIdx>|<title>|<quality>|<size>|<provider>
func parsePrepareMeta(trimmed string) *StreamDescriptor {
	rest := trimmed[len(WirePreparePlayback):]
	if !strings.HasPrefix(rest, "|") {
		return nil
	}

	parts := strings.Split(rest[1:], "|")
	if len(parts) < 6 || parts[0] == "" {
		return nil
	}

	fileIdx, err := strconv.Atoi(parts[1])
	if err != nil {
		fileIdx = 0
	}
	size, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		size = 0
	}

	return &StreamDescriptor{
		Hash:      parts[0],
		FileIndex: fileIdx,
		Title:     parts[2],
		Quality:   parts[3],
		Size:      size,
		Provider:  parts[5],
	}
}

// EncodeVote renders the wire form of a vote command.
func EncodeVote(itemID string) string { return WireVote + itemID }

// EncodeUnvote renders the wire form of an unvote command.
func EncodeUnvote(itemID string) string { return WireUnvote + itemID }

// EncodeKick renders the wire form of a kick command.
func EncodeKick(targetID string) string { return WireKick + targetID }

// EncodePreparePlayback renders the wire form of a prepare-playback command
// with inline stream metadata. The unlock URL never travels.
func EncodePreparePlayback(s *StreamDescriptor) string {
	if s == nil {
		return WirePreparePlayback
	}
	return fmt.Sprintf("%s|%s|%d|%s|%s|%d|%s",
		WirePreparePlayback, s.Hash, s.FileIndex, s.Title, s.Quality, s.Size, s.Provider)
}
