package llm

import "strings"

// PromptVersion changes whenever a prompt text changes so cached responses are not reused
const PromptVersion = "2"

const responseSchema = `Respond ONLY with a JSON object using exactly this structure:
{
  "raw_line": "the complete MICR line as read",
  "raw_confidence": 0.95,
  "components": {
    "cheque_number": {"value": "001234", "confidence": 0.99, "description": "Cheque serial number"},
    "transit_number": {"value": "12345", "confidence": 0.98, "description": "Branch transit number"},
    "institution_number": {"value": "003", "confidence": 0.97, "description": "Financial institution number"},
    "account_number": {"value": "987654321", "confidence": 0.95, "description": "Account number"},
    "amount": {"value": "", "confidence": 0.0, "description": "Encoded amount, if present"},
    "auxiliary_on_us": {"value": "", "confidence": 0.0, "description": "Auxiliary on-us field, if present"}
  },
  "success": true,
  "error_message": null
}

Rate each confidence from 0.0 to 1.0 based on how clearly the characters are printed:
- 0.95-1.0: perfect image, very sharp characters
- 0.85-0.94: good quality, readable
- 0.70-0.84: average quality, some uncertainty
- 0.50-0.69: poor quality, hard to read
- 0.20-0.49: bad quality, very uncertain
- 0.0-0.19: unreadable or not a cheque

Use EXACTLY the digits you see, without spaces or extra formatting.
If a component is not visible or not present, use an empty value and confidence 0.0.
If the analysis fails completely, return success: false with an error message.`

const canadaPrompt = `Analyze this image of a Canadian cheque and extract the MICR (Magnetic Ink Character Recognition) line printed at the bottom.

The Canadian MICR line follows this layout (fields separated by spaces and E-13B symbols):
CHEQUE ⑈ ⑆ TRANSIT ⑉ INSTITUTION ⑆ ACCOUNT ⑈

Where:
1. CHEQUE: cheque serial number (1-10 digits, sometimes zero-padded), OPTIONAL
2. TRANSIT: branch transit number (exactly 5 digits), REQUIRED
3. INSTITUTION: financial institution number (exactly 3 digits), REQUIRED
4. ACCOUNT: account number (3-20 digits), REQUIRED

A cheque without a cheque number is still valid; leave that field empty when it is not printed.

E-13B symbols:
- ⑆ transit symbol
- ⑈ on-us symbol
- ⑇ amount symbol (rare)
- ⑉ dash symbol

`

const usPrompt = `Analyze this image of a US check and extract the MICR (Magnetic Ink Character Recognition) line printed at the bottom.

The US MICR line typically reads:
⑆ ROUTING ⑆ ACCOUNT ⑈ CHECK

Report the 9-digit ABA routing number as transit_number and leave institution_number empty.

`

const europePrompt = `Analyze this image of a European cheque and extract the machine-readable line printed at the bottom
(MICR E-13B or CMC-7). Report the bank/branch code as transit_number, the bank identifier as
institution_number and the account number as account_number when they can be identified.

`

// Regions lists the supported prompt regions
var Regions = []string{"canada", "us", "europe"}

// BuildPrompt returns the extraction prompt for a region; unknown regions use the Canadian prompt
func BuildPrompt(region string) string {
	var b strings.Builder
	switch strings.ToLower(strings.TrimSpace(region)) {
	case "us", "usa":
		b.WriteString(usPrompt)
	case "europe", "eu":
		b.WriteString(europePrompt)
	default:
		b.WriteString(canadaPrompt)
	}
	b.WriteString(responseSchema)
	return b.String()
}
