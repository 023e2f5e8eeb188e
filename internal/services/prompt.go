package services

import (
	"fmt"
	"strings"

	"market-research-tracker/internal/models"
)

// NotSpecified is the sentinel used for absent optional request fields
const NotSpecified = "Not specified"

func orNotSpecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotSpecified
	}
	return s
}

var geographyNotes = map[string]string{
	"UAE": "\nNOTE: UAE refers to the United Arab Emirates. Focus on all seven emirates (Dubai, Abu Dhabi, Sharjah, Ajman, Umm Al Quwain, Ras Al Khaimah, Fujairah) with emphasis on major commercial centers like Dubai and Abu Dhabi. Consider local regulations, currency (AED), and MENA market dynamics.\n",
	"KSA": "\nNOTE: KSA refers to the Kingdom of Saudi Arabia. Focus on major commercial centers like Riyadh, Jeddah, Dammam, and other key economic regions. Consider local regulations, currency (SAR), Vision 2030 initiatives, and MENA market dynamics.\n",
}

var creSectorNotes = map[string]string{
	"Office": `
NOTE: Office sector includes corporate headquarters, business parks, co-working spaces, government offices, and medical offices (non-hospital).
Key drivers to analyze: employment growth, hybrid work trends, business expansions, office space demand patterns, lease rates, and vacancy trends.`,

	"Retail": `
NOTE: Retail sector includes shopping malls, strip centers, high-street retail, big-box retail, and F&B clusters.
Key drivers to analyze: consumer spending, e-commerce activity, footfall patterns, retail sales trends, and tenant mix strategies.`,

	"Industrial & Logistics": `
NOTE: Industrial & Logistics sector includes warehouses, fulfillment centers, cold storage, manufacturing plants, and last-mile logistics hubs.
Key drivers to analyze: e-commerce growth, trade volumes, supply-chain infrastructure, logistics demand, and industrial lease rates.`,

	"Multifamily Residential": `
NOTE: Multifamily Residential sector includes apartment complexes, serviced apartments, build-to-rent communities, student housing, and senior living residences.
Key drivers to analyze: population growth, rental demand, affordability dynamics, rental yields, and demographic trends.`,

	"Hospitality": `
NOTE: Hospitality sector includes hotels (luxury, midscale, budget), resorts, serviced hotel apartments, and short-stay units.
Key drivers to analyze: tourism demand, business travel, events and exhibitions, occupancy rates, ADR, and RevPAR.`,

	"Mixed-Use": `
NOTE: Mixed-Use sector includes developments combining multiple asset classes: Retail + Residential, Office + Retail, Hotel + Retail, and integrated mega-projects.
Key drivers to analyze: urban planning, footfall synergy, lifestyle demand, and mixed-use project performance.`,

	"Specialty Real Estate": `
NOTE: Specialty Real Estate sector includes data centers, life sciences labs, education and healthcare facilities, cold chain facilities, car park structures, religious buildings, and cultural/entertainment hubs.
Key drivers to analyze: digital transformation, demographics, government policies, specialized infrastructure demand, and niche market dynamics.`,

	"Land": `
NOTE: Land sector includes greenfield, brownfield, zoned/master-planned plots, and commercialized agricultural land.
Key drivers to analyze: zoning rules, masterplans, infrastructure development, land values, development potential, and regulatory environment.`,

	"Flex & Hybrid Spaces": `
NOTE: Flex & Hybrid Spaces sector includes co-warehousing, cloud kitchens, flexible retail kiosks, pop-up experience centers, and innovation hubs/incubators.
Key drivers to analyze: startup ecosystem, flexible demand, lower CAPEX models, shared economy trends, and flexible space innovations.`,
}

const allSectorsNote = `
NOTE: This report should cover ALL major Commercial Real Estate sectors. Provide comprehensive analysis across Office, Retail, Industrial & Logistics, Multifamily Residential, Hospitality, Mixed-Use, Specialty Real Estate, Land, and Flex & Hybrid Spaces, with sector-specific insights, trends, and metrics for each.`

// BuildResearchInput assembles the deterministic research prompt sent to the
// task API from the user's request parameters.
func BuildResearchInput(meta models.TaskMetadata) string {
	geography := orNotSpecified(meta.Geography)
	details := orNotSpecified(meta.Details)
	creSector := orNotSpecified(meta.CRESector)

	geographyContext := geographyNotes[strings.ToUpper(geography)]

	creSectorContext := ""
	if creSector != NotSpecified {
		if creSector == "All" {
			creSectorContext = allSectorsNote
		} else {
			creSectorContext = creSectorNotes[creSector]
		}
	}

	var b strings.Builder
	b.WriteString("Generate a comprehensive market research report based on the following criteria:\n\n")
	b.WriteString("If geography is not specified, default to a global market scope.\n")
	b.WriteString("Ensure the report includes key trends, risks, metrics, and major players.\n")
	b.WriteString("Incorporate the specific details provided when applicable.\n")
	b.WriteString(geographyContext)
	b.WriteString("\n")
	b.WriteString(creSectorContext)
	b.WriteString("\n")
	b.WriteString("CRITICAL FORMATTING INSTRUCTIONS:\n")
	b.WriteString("- Use valid GitHub Flavored Markdown (GFM) for all content.\n")
	b.WriteString("- For tables:\n")
	b.WriteString("  * NEVER put the table title as the first row inside the table structure\n")
	b.WriteString("  * Always place table titles OUTSIDE and ABOVE the table using bold text: **Table Title**\n")
	b.WriteString("  * Ensure ALL rows (header, separator, and body) have EXACTLY the same number of columns\n")
	b.WriteString("  * Add a blank line before and after every table\n")
	b.WriteString("- Use proper citation numbers [1], [2], etc. throughout the text\n\n")
	fmt.Fprintf(&b, "Industry: %s\n", meta.Industry)
	fmt.Fprintf(&b, "Geography: %s\n", geography)
	fmt.Fprintf(&b, "Commercial Real Estate Sector: %s\n", creSector)
	fmt.Fprintf(&b, "Specific Details Required: %s", details)
	return b.String()
}

// BuildReportTitle derives the deterministic report title from the task
// inputs. Geography is appended unless absent or the "Not specified" sentinel.
func BuildReportTitle(meta models.TaskMetadata) string {
	title := fmt.Sprintf("%s Market Research Report", meta.Industry)
	geography := strings.TrimSpace(meta.Geography)
	if geography != "" && geography != NotSpecified {
		title += fmt.Sprintf(" - %s", geography)
	}
	return title
}

// ValidProcessors are the accepted processor tiers for task submission
var ValidProcessors = map[string]bool{
	"pro": true, "ultra": true, "ultra2x": true, "ultra4x": true, "ultra8x": true,
}

// NormalizeProcessor falls back to the default tier for unknown values
func NormalizeProcessor(processor, defaultProcessor string) string {
	if ValidProcessors[processor] {
		return processor
	}
	return defaultProcessor
}
