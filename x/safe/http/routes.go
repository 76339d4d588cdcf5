package http

// Route patterns for the Safe HTTP surface, relative to the API prefix.
const (
	routeCreateSafe       = "/safes"
	routeGetSafe          = "/safes/{id}"
	routeAddSignature     = "/safes/{id}/signatures"
	routeSignatureHashes  = "/safes/{ref}/signature-hashes"
	routeDeployData       = "/safes/{id}/deploy-data"
	routeDeploy           = "/safes/{id}/deploy"
	routeDeploymentReport = "/safes/{id}/deployment-event"
)

// Route names for mux URL building.
const (
	routeNameCreateSafe       = "safes_create"
	routeNameGetSafe          = "safes_get"
	routeNameAddSignature     = "safes_add_signature"
	routeNameSignatureHashes  = "safes_signature_hashes"
	routeNameDeployData       = "safes_deploy_data"
	routeNameDeploy           = "safes_deploy"
	routeNameDeploymentReport = "safes_deployment_event"
)
