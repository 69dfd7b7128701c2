package answer

import (
	"fmt"
	"strings"

	"github.com/civicmesh/civicmesh/internal/models"
)

// TenantInfo carries the tenant presentation fields used in prompts and
// fallback messages.
type TenantInfo struct {
	Name    string
	Phone   string
	Website string
}

// FallbackText is the fixed response when retrieval finds nothing.
func FallbackText(tenant TenantInfo) string {
	name := tenant.Name
	if name == "" {
		name = "your local government"
	}
	var contact []string
	if tenant.Phone != "" {
		contact = append(contact, "call "+tenant.Phone)
	}
	if tenant.Website != "" {
		contact = append(contact, "visit "+tenant.Website)
	}
	msg := fmt.Sprintf("I don't have information about that in my current sources for %s.", name)
	if len(contact) > 0 {
		msg += " For help, please " + strings.Join(contact, " or ") + "."
	}
	return msg
}

const disclaimer = "Note: I answer using official and community sources for this area. Information may lag recent changes; verify time-sensitive details with the office listed in the sources."

// BuildSystemPrompt assembles the grounding prompt. The disclaimer is only
// included on the first assistant turn of a conversation.
func BuildSystemPrompt(tenant TenantInfo, chunks []models.RetrievedChunk, history []models.Message) string {
	var b strings.Builder

	name := tenant.Name
	if name == "" {
		name = "the local area"
	}
	fmt.Fprintf(&b, "You are a helpful assistant answering resident questions about %s.\n", name)
	b.WriteString("Answer only from the numbered sources below. If the sources do not cover the question, say so briefly")
	if tenant.Phone != "" || tenant.Website != "" {
		b.WriteString(" and point the resident to ")
		switch {
		case tenant.Phone != "" && tenant.Website != "":
			fmt.Fprintf(&b, "%s or %s", tenant.Phone, tenant.Website)
		case tenant.Phone != "":
			b.WriteString(tenant.Phone)
		default:
			b.WriteString(tenant.Website)
		}
	}
	b.WriteString(".\n")

	if !hasAssistantTurn(history) {
		b.WriteString(disclaimer)
		b.WriteString("\n")
	}

	b.WriteString("\nSources:\n")
	for i := range chunks {
		sourceID := chunks[i].Source.SourceID
		if sourceID == "" {
			sourceID = fmt.Sprintf("S%d", i+1)
		}
		fmt.Fprintf(&b, "[%s] %s\n", sourceID, strings.TrimSpace(chunks[i].ChunkText))
	}

	b.WriteString("\nCite sources inline as [S1], [S2] and so on. ")
	b.WriteString("End your answer with a final line in exactly this form: USED_SOURCES: S1, S3 ")
	b.WriteString("listing only the sources you actually used, or USED_SOURCES: NONE if you used none.")

	return b.String()
}

func hasAssistantTurn(history []models.Message) bool {
	for _, m := range history {
		if m.Role == "assistant" {
			return true
		}
	}
	return false
}
