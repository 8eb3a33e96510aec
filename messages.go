package vscope

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NewPrinter returns a printer for localized error and status text.
// Unsupported languages fall back to American English.
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

//nolint:errcheck
func init() {
	// --- English (default) ---
	message.SetString(language.AmericanEnglish, "err.port_not_found", "Serial port %s was not found.")
	message.SetString(language.AmericanEnglish, "err.port_busy", "Serial port %s is busy or access was denied.")
	message.SetString(language.AmericanEnglish, "err.invalid_handle", "Connection %d is not open. Open the device again.")
	message.SetString(language.AmericanEnglish, "err.timeout", "The device did not answer in time.")
	message.SetString(language.AmericanEnglish, "err.crc_mismatch", "The device answer was corrupted (checksum mismatch).")
	message.SetString(language.AmericanEnglish, "err.invalid_config", "Invalid serial settings: %s")
	message.SetString(language.AmericanEnglish, "err.payload_too_large", "The request is too large for one frame.")
	message.SetString(language.AmericanEnglish, "err.internal", "Internal error: %s")
	message.SetString(language.AmericanEnglish, "err.io", "Serial I/O failed: %s")
	message.SetString(language.AmericanEnglish, "msg.available_ports", "Available serial ports:")
	message.SetString(language.AmericanEnglish, "msg.no_ports", "No serial ports found.")
	message.SetString(language.AmericanEnglish, "msg.opened", "Opened %s as connection %d.")
	message.SetString(language.AmericanEnglish, "msg.closed", "Connection %d closed.")

	// --- German (de) ---
	message.SetString(language.German, "err.port_not_found", "Serielle Schnittstelle %s wurde nicht gefunden.")
	message.SetString(language.German, "err.port_busy", "Serielle Schnittstelle %s ist belegt oder der Zugriff wurde verweigert.")
	message.SetString(language.German, "err.invalid_handle", "Verbindung %d ist nicht geöffnet. Bitte das Gerät erneut öffnen.")
	message.SetString(language.German, "err.timeout", "Das Gerät hat nicht rechtzeitig geantwortet.")
	message.SetString(language.German, "err.crc_mismatch", "Die Antwort des Geräts war beschädigt (Prüfsummenfehler).")
	message.SetString(language.German, "err.invalid_config", "Ungültige serielle Einstellungen: %s")
	message.SetString(language.German, "err.payload_too_large", "Die Anfrage ist zu groß für einen Rahmen.")
	message.SetString(language.German, "err.internal", "Interner Fehler: %s")
	message.SetString(language.German, "err.io", "Serielle Ein-/Ausgabe fehlgeschlagen: %s")
	message.SetString(language.German, "msg.available_ports", "Verfügbare serielle Schnittstellen:")
	message.SetString(language.German, "msg.no_ports", "Keine seriellen Schnittstellen gefunden.")
	message.SetString(language.German, "msg.opened", "%s als Verbindung %d geöffnet.")
	message.SetString(language.German, "msg.closed", "Verbindung %d geschlossen.")

	// --- Finnish (fi) ---
	message.SetString(language.Finnish, "err.port_not_found", "Sarjaporttia %s ei löytynyt.")
	message.SetString(language.Finnish, "err.port_busy", "Sarjaportti %s on varattu tai pääsy estettiin.")
	message.SetString(language.Finnish, "err.invalid_handle", "Yhteys %d ei ole auki. Avaa laite uudelleen.")
	message.SetString(language.Finnish, "err.timeout", "Laite ei vastannut ajoissa.")
	message.SetString(language.Finnish, "err.crc_mismatch", "Laitteen vastaus oli vioittunut (tarkistussumma ei täsmää).")
	message.SetString(language.Finnish, "err.invalid_config", "Virheelliset sarjaportin asetukset: %s")
	message.SetString(language.Finnish, "err.payload_too_large", "Pyyntö on liian suuri yhteen kehykseen.")
	message.SetString(language.Finnish, "err.internal", "Sisäinen virhe: %s")
	message.SetString(language.Finnish, "err.io", "Sarjaliikenne epäonnistui: %s")
	message.SetString(language.Finnish, "msg.available_ports", "Käytettävissä olevat sarjaportit:")
	message.SetString(language.Finnish, "msg.no_ports", "Sarjaportteja ei löytynyt.")
	message.SetString(language.Finnish, "msg.opened", "%s avattu yhteytenä %d.")
	message.SetString(language.Finnish, "msg.closed", "Yhteys %d suljettu.")

	// --- Swedish (sv) ---
	message.SetString(language.Swedish, "err.port_not_found", "Seriell port %s hittades inte.")
	message.SetString(language.Swedish, "err.port_busy", "Seriell port %s är upptagen eller åtkomst nekades.")
	message.SetString(language.Swedish, "err.invalid_handle", "Anslutning %d är inte öppen. Öppna enheten igen.")
	message.SetString(language.Swedish, "err.timeout", "Enheten svarade inte i tid.")
	message.SetString(language.Swedish, "err.crc_mismatch", "Enhetens svar var skadat (kontrollsumman stämmer inte).")
	message.SetString(language.Swedish, "err.invalid_config", "Ogiltiga seriella inställningar: %s")
	message.SetString(language.Swedish, "err.payload_too_large", "Begäran är för stor för en ram.")
	message.SetString(language.Swedish, "err.internal", "Internt fel: %s")
	message.SetString(language.Swedish, "err.io", "Seriell I/O misslyckades: %s")
	message.SetString(language.Swedish, "msg.available_ports", "Tillgängliga seriella portar:")
	message.SetString(language.Swedish, "msg.no_ports", "Inga seriella portar hittades.")
	message.SetString(language.Swedish, "msg.opened", "%s öppnad som anslutning %d.")
	message.SetString(language.Swedish, "msg.closed", "Anslutning %d stängd.")
}
