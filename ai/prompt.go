package ai

import "fmt"

// ResultSchema is the JSON schema every extraction response must follow.
const ResultSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "dealDetected": {"type": "boolean"},
    "dealType": {"type": ["string", "null"], "enum": ["fundraise", "investment", "acquisition", "exit", null]},
    "entities": {
      "type": "object",
      "properties": {
        "generalPartners": {"type": "array", "items": {"type": "string"}},
        "funds": {"type": "array", "items": {"type": "string"}},
        "portfolioCompanies": {"type": "array", "items": {"type": "string"}},
        "limitedPartners": {"type": "array", "items": {"type": "string"}},
        "serviceProviders": {"type": "array", "items": {"type": "string"}}
      }
    },
    "amount": {
      "type": "object",
      "properties": {
        "value": {"type": ["number", "null"], "minimum": 0},
        "currency": {"type": ["string", "null"]}
      }
    },
    "geography": {
      "type": "object",
      "properties": {
        "country": {"type": ["string", "null"]},
        "city": {"type": ["string", "null"]}
      }
    },
    "announcementDate": {"type": ["string", "null"], "format": "date"},
    "confidenceScore": {"type": "integer", "minimum": 0, "maximum": 100},
    "reasoning": {"type": "string"}
  },
  "required": ["dealDetected", "confidenceScore", "reasoning"],
  "additionalProperties": false
}`

const systemPromptTemplate = `You analyse private-markets news and decide whether the article announces a deal.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- dealDetected is true only if the article announces a concrete fundraise, investment, acquisition or exit.
- dealType is one of fundraise, investment, acquisition, exit, or null when no deal is detected.
- Entity names are copied as written in the article. Do not invent entities. Use empty arrays when none are named.
- amount.value is a plain number in units of the currency (400 million is 400000000). Use null when no amount is given.
- amount.currency is an ISO 4217 code such as USD or EUR.
- announcementDate is the date the deal was announced, formatted YYYY-MM-DD, or null.
- confidenceScore is an integer from 0 (pure guess) to 100 (explicitly stated).
- reasoning is one or two sentences citing the evidence for your answer.
- When no deal is detected leave dealType, amount, geography and announcementDate null.
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.

Example:
Input: "Northwind Capital has closed Northwind Fund III at $400 million, backed by the State Pension Plan."
Output:
{"dealDetected":true,"dealType":"fundraise","entities":{"generalPartners":["Northwind Capital"],"funds":["Northwind Fund III"],"portfolioCompanies":[],"limitedPartners":["State Pension Plan"],"serviceProviders":[]},"amount":{"value":400000000,"currency":"USD"},"geography":{"country":null,"city":null},"announcementDate":null,"confidenceScore":95,"reasoning":"The article states the final close of Fund III at $400 million."}

Example:
Input: "Markets rallied on Tuesday as inflation data came in below expectations."
Output:
{"dealDetected":false,"dealType":null,"entities":{"generalPartners":[],"funds":[],"portfolioCompanies":[],"limitedPartners":[],"serviceProviders":[]},"amount":{"value":null,"currency":null},"geography":{"country":null,"city":null},"announcementDate":null,"confidenceScore":90,"reasoning":"The article is general market commentary with no transaction."}`

// SystemPrompt returns the instruction sent ahead of every document.
func SystemPrompt() string {
	return fmt.Sprintf(systemPromptTemplate, ResultSchema)
}
