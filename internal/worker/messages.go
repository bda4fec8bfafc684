package worker

import (
	"errors"
	"fmt"

	"github.com/book-expert/voice-roaster/internal/roast"
	"github.com/book-expert/voice-roaster/internal/state"
)

// Chat replies.
const (
	msgRoastDelivered  = "🎤 Voice roast delivered."
	msgOptedIn         = "✅ You've opted in to receive roasts! You can now be targeted with /voiceroast.\n\nUse /stop_roasts if you change your mind."
	msgOptedOut        = "🛡️ You've opted out of roasts. You won't be targeted until you use /allow_roast again."
	msgSafeModeOn      = "🔒 Safemode ENABLED. Profanity will be filtered."
	msgSafeModeOff     = "🔒 Safemode DISABLED. Profanity filter disabled."
	msgNuclearOn       = "☢️ Nuclear roasts ENABLED in this group."
	msgNuclearOff      = "☢️ Nuclear roasts DISABLED in this group."
	msgFmtVoiceModeSet = "🎤 Default voice mode set to: %s"
	msgRoastLogHeader  = "📝 Recent Roast Activity:"
	msgRoastLogEmpty   = "📝 No roast activity recorded for this group yet."
	msgVoicesHeader    = "🎤 Available Voices:"
	msgToggleUsage     = "Usage: on|off"

	msgMissingTarget   = "❌ You must reply to someone's message to roast them!\n\nUsage: Reply to a message and type /voiceroast [tier] [mode]"
	msgInvalidTier     = "❌ Invalid tier! Use: tame, spicy, or nuclear"
	msgInvalidMode     = "❌ Invalid voice mode! Use: silly, robot, deep, or sultry"
	msgInvalidArgument = "❌ Invalid command arguments."
	msgConsentDenied   = "❌ That user hasn't opted in to receive roasts!\n\nThey need to use /allow_roast first."
	msgTierDisabled    = "❌ Nuclear roasts are disabled in this group. An admin needs to enable them first."
	msgFmtRateLimited  = "⏰ Slow down! You can roast again in %d minutes."
	msgNoContent       = "❌ No roasts available for that tier."
	msgProfanity       = "🚫 That roast contains profanity and safemode is enabled. Try again or ask an admin to disable safemode."
	msgSynthesisFailed = "❌ Sorry, there was an error generating your roast. Please try again later."
	msgVoicesFailed    = "❌ Error fetching the voice list."
	msgStorage         = "Database error occurred."
	msgNotAdmin        = "❌ Only group admins can do that."
	msgUnrecorded      = "🎤 Voice roast delivered, but it could not be recorded."
	msgMalformed       = "❌ Unrecognized command."
	msgUnexpected      = "An unexpected error occurred. Please try again."
)

// messageFor renders an abort as the chat reply for a command of kind.
func messageFor(kind CommandKind, abortErr *roast.AbortError) string {
	switch abortErr.Reason {
	case roast.ReasonInvalidArgument:
		return invalidArgumentMessage(kind, abortErr)
	case roast.ReasonConsentDenied:
		return msgConsentDenied
	case roast.ReasonTierDisabled:
		return msgTierDisabled
	case roast.ReasonRateLimited:
		return fmt.Sprintf(msgFmtRateLimited, abortErr.RemainingMinutes())
	case roast.ReasonContentUnavailable:
		return msgNoContent
	case roast.ReasonProfanityBlocked:
		return msgProfanity
	case roast.ReasonSynthesisFailed:
		if kind == KindListVoices {
			return msgVoicesFailed
		}

		return msgSynthesisFailed
	case roast.ReasonDeliveryFailed:
		return msgSynthesisFailed
	case roast.ReasonStorageError:
		return msgStorage
	case roast.ReasonPermissionDenied:
		return msgNotAdmin
	default:
		return msgUnexpected
	}
}

func invalidArgumentMessage(kind CommandKind, abortErr *roast.AbortError) string {
	switch {
	case kind == KindVoiceMode, errors.Is(abortErr, state.ErrInvalidVoiceMode):
		return msgInvalidMode
	case errors.Is(abortErr, state.ErrInvalidTier):
		return msgInvalidTier
	case kind == KindRoast:
		return msgMissingTarget
	default:
		return msgInvalidArgument
	}
}
