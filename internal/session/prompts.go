package session

import (
	"fmt"
	"strings"
)

// promptVersion tags the greeting so operators can tell which prompt build a
// recording came from.
const promptVersion = "vg-2.4"

// script holds the language-dependent fixed lines of the dialog.
type script struct {
	greeting string
	closing  string
	apology  string
	checking string
}

// scripts maps ISO language codes to their fixed lines. "auto" and unknown
// codes fall back to English.
var scripts = map[string]script{
	"en": {
		greeting: "Hello, thank you for calling the taxi line. Where shall we pick you up?",
		closing:  "Your taxi is booked. Thank you for calling, and have a great journey. Goodbye!",
		apology:  "I'm sorry, I couldn't reach our dispatch team just now. Would you like me to try again?",
		checking: "I'm just checking that for you now.",
	},
	"es": {
		greeting: "Hola, gracias por llamar a la línea de taxis. ¿Dónde le recogemos?",
		closing:  "Su taxi está reservado. Gracias por llamar y buen viaje. ¡Adiós!",
		apology:  "Lo siento, no he podido contactar con la central ahora mismo. ¿Quiere que lo intente de nuevo?",
		checking: "Lo estoy comprobando ahora mismo.",
	},
	"de": {
		greeting: "Hallo, danke für Ihren Anruf bei der Taxizentrale. Wo dürfen wir Sie abholen?",
		closing:  "Ihr Taxi ist gebucht. Danke für Ihren Anruf und gute Fahrt. Auf Wiederhören!",
		apology:  "Entschuldigung, ich konnte die Zentrale gerade nicht erreichen. Soll ich es noch einmal versuchen?",
		checking: "Ich prüfe das gerade für Sie.",
	},
	"fr": {
		greeting: "Bonjour, merci d'appeler la centrale de taxis. Où devons-nous venir vous chercher ?",
		closing:  "Votre taxi est réservé. Merci de votre appel et bon voyage. Au revoir !",
		apology:  "Désolé, je n'ai pas pu joindre la centrale à l'instant. Voulez-vous que je réessaie ?",
		checking: "Je vérifie cela pour vous.",
	},
}

// scriptFor returns the fixed lines for a language code, falling back to
// English for "auto" and unknown codes.
func scriptFor(language string) script {
	if s, ok := scripts[strings.ToLower(language)]; ok {
		return s
	}
	return scripts["en"]
}

// systemPrompt builds the session instructions. The prompt pins the model to
// one question at a time, forbids invented fares, and requires the booking
// tools for all state changes.
func systemPrompt(language string) string {
	var b strings.Builder
	b.WriteString("You are a telephone taxi booking assistant. Collect exactly four details, one question at a time: pickup address, destination, number of passengers, and pickup time. ")
	b.WriteString("Never ask two questions in one turn. Keep every reply short — this is a phone call. ")
	b.WriteString("Call sync_booking_data each time the caller provides or corrects a detail. ")
	b.WriteString("When all details are collected, summarise the booking and ask the caller to confirm. On their first confirmation call book_taxi with action request_quote. ")
	b.WriteString("You never know the fare or arrival time yourself: never state, estimate, or invent a price or an ETA. Only repeat a fare after it has been provided to you. ")
	b.WriteString("After the fare has been read out and the caller agrees, call book_taxi with action confirmed. ")
	b.WriteString("Only call cancel_booking when the caller clearly asks to cancel. An address is never a cancellation. ")
	b.WriteString("Call end_call when the conversation is finished.")

	if language != "" && !strings.EqualFold(language, "auto") {
		fmt.Fprintf(&b, " Speak %s throughout the call.", languageName(language))
	} else {
		b.WriteString(" Answer in the language the caller speaks.")
	}
	return b.String()
}

// languageName maps the ISO codes the bridge sends to a name the model
// understands; unknown codes pass through unchanged.
func languageName(code string) string {
	switch strings.ToLower(code) {
	case "en":
		return "English"
	case "es":
		return "Spanish"
	case "de":
		return "German"
	case "fr":
		return "French"
	default:
		return code
	}
}

// greetingInstruction is the one-shot response instruction for the opening
// turn.
func greetingInstruction(language string) string {
	return fmt.Sprintf("Say exactly: [%s] %s", promptVersion, scriptFor(language).greeting)
}

// closingInstruction wraps the language-aware goodbye.
func closingInstruction(language string) string {
	return "Say exactly: " + scriptFor(language).closing
}

// checkingInstruction is the only thing the assistant may say while a quote
// is pending.
func checkingInstruction(language string) string {
	return "Say only: " + scriptFor(language).checking
}

// apologyInstruction covers the webhook-unreachable path.
func apologyInstruction(language string) string {
	return "Say exactly: " + scriptFor(language).apology
}

// quoteInstruction makes the assistant recite the delivered quote verbatim
// and ask for final confirmation.
func quoteInstruction(fare, eta string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The trip fare will be %s", fare)
	if eta != "" {
		fmt.Fprintf(&b, ", and the estimated arrival time is %s", eta)
	}
	b.WriteString(". Tell the caller exactly this fare")
	if eta != "" {
		b.WriteString(" and arrival time")
	}
	b.WriteString(", then ask whether you should confirm the booking. Do not change the numbers.")
	return b.String()
}

// pairingNote is the context-pairing system note injected before asking the
// model to respond to a user answer: it names the slot the answer belongs to.
func pairingNote(field, value string) string {
	return fmt.Sprintf("The caller just answered the %s question. Their %s is: %s. Save it with sync_booking_data and ask the next question.", field, field, value)
}

// noFareNote is injected when the price guard trips.
const noFareNote = "You do not know the fare. Do not state any price or arrival time."

// toolRequiredNote is injected when the assistant claims a booking is
// confirmed without having called book_taxi.
const toolRequiredNote = "You have not booked anything yet. You must call the book_taxi tool before telling the caller their taxi is booked. Call the tool now."
